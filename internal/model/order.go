package model

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// 对冲模式下的仓位索引，多空仓位互不抵消
type PositionIndex int

const (
	// 单向持仓
	PositionIndexOneWay PositionIndex = 0
	// 对冲模式多仓
	PositionIndexLong PositionIndex = 1
	// 对冲模式空仓
	PositionIndexShort PositionIndex = 2
)

// 止盈止损触发价格类型
type TriggerBy string

const (
	TriggerByMark TriggerBy = "mark"
	TriggerByLast TriggerBy = "last"
)

// 保护单类型
type LegKind string

const (
	LegStopLoss   LegKind = "stop_loss"
	LegTakeProfit LegKind = "take_profit"
)

// MarketOrder 市价开仓请求
type MarketOrder struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	PositionIndex PositionIndex
	// 信号价格，模拟盘用作成交价
	RefPrice float64
	ClientID string
}

// ProtectiveLeg 一条止盈或止损腿
type ProtectiveLeg struct {
	Kind      LegKind
	Index     int // 止盈档位 1..4，止损为0
	Price     float64
	Quantity  float64
	TriggerBy TriggerBy
}

// ProtectiveRequest 对已开仓位设置止盈止损
type ProtectiveRequest struct {
	Symbol        string
	Side          OrderSide // 开仓方向，平仓方向由网关取反
	PositionIndex PositionIndex
	StopLoss      *ProtectiveLeg
	TakeProfits   []ProtectiveLeg
}

// Legs 按提交顺序返回所有腿：止损在前
func (r ProtectiveRequest) Legs() []ProtectiveLeg {
	legs := make([]ProtectiveLeg, 0, len(r.TakeProfits)+1)
	if r.StopLoss != nil {
		legs = append(legs, *r.StopLoss)
	}
	return append(legs, r.TakeProfits...)
}

// OrderResult 交易所对单个下单请求的结果
type OrderResult struct {
	Accepted bool
	OrderID  string
	AvgPrice float64
	Leg      *ProtectiveLeg
	Err      error
}

type Balance struct {
	Asset     string
	Total     float64 // 总权益
	Available float64 // 可用
}

// PositionInfo 交易所真实持仓
type PositionInfo struct {
	Symbol        string
	Side          OrderSide
	PositionIndex PositionIndex
	Size          float64 // 以币为单位
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UpdatedAt     time.Time
}

// Margin 持仓占用保证金 = 数量 * 标记价格 / 杠杆
func (p PositionInfo) Margin() float64 {
	if p.Size <= 0 || p.Leverage <= 0 {
		return 0
	}
	return p.Size * p.MarkPrice / p.Leverage
}
