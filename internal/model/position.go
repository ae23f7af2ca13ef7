package model

import "time"

type PositionState string

const (
	StateReserved           PositionState = "reserved"            // 信号已接受，未下单
	StateEntryPending       PositionState = "entry_pending"       // 开仓单已提交
	StateEntryFilled        PositionState = "entry_filled"        // 开仓单被交易所接受
	StateProtectivePending  PositionState = "protective_pending"  // 止盈止损提交中
	StateProtected          PositionState = "protected"           // 全部保护单成功
	StatePartiallyProtected PositionState = "partially_protected" // 至少一条保护单失败，需要人工介入
	StateEntryFailed        PositionState = "entry_failed"        // 开仓被拒绝，无仓位
	StateClosed             PositionState = "closed"              // 已从账本移除
)

// Terminal 是否是状态机终态
func (s PositionState) Terminal() bool {
	switch s {
	case StateProtected, StatePartiallyProtected, StateEntryFailed, StateClosed:
		return true
	}
	return false
}

// Position 账本中的仓位记录，每个币种最多一条
type Position struct {
	Symbol             string
	Timeframe          Timeframe
	Side               OrderSide
	PositionIndex      PositionIndex
	Quantity           float64
	EntryPrice         float64
	StopLoss           float64
	TakeProfits        []float64
	ProtectiveOrderIDs []string
	State              PositionState
	Signal             Signal
	ReservedAt         time.Time
	OpenedAt           time.Time
	ClosedAt           time.Time
	Reason             string // 终态原因
}
