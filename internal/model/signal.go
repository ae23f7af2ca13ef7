package model

import "time"

type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalLong
	SignalShort
)

func (k SignalKind) String() string {
	switch k {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	default:
		return "none"
	}
}

// Side 开仓方向
func (k SignalKind) Side() OrderSide {
	if k == SignalShort {
		return Sell
	}
	return Buy
}

// PositionIndex 对冲模式下的仓位索引
func (k SignalKind) PositionIndex() PositionIndex {
	if k == SignalShort {
		return PositionIndexShort
	}
	return PositionIndexLong
}

// Signal 一次K线收盘产生的交易信号，立即被风控消费或丢弃
type Signal struct {
	Kind       SignalKind
	Symbol     string
	Timeframe  Timeframe
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64 // 单一止盈，与止损同百分比
	// 阶梯止盈 TP1..TP4
	TakeProfits [4]float64
	CandleTime  time.Time
}

func (s Signal) IsNone() bool {
	return s.Kind == SignalNone
}
