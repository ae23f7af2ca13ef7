package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ggshot/internal/model"
)

// 合法的状态前进方向
var transitions = map[model.PositionState][]model.PositionState{
	model.StateReserved:          {model.StateEntryPending},
	model.StateEntryPending:      {model.StateEntryFilled, model.StateEntryFailed},
	model.StateEntryFilled:       {model.StateProtectivePending},
	model.StateProtectivePending: {model.StateProtected, model.StatePartiallyProtected},
}

// Ledger 本地仓位账本，每个币种同时最多一条记录
// TryReserve 是唯一的开仓准入点
type Ledger struct {
	mu       sync.Mutex
	active   map[string]*model.Position
	outcomes map[string]model.Position // 每个币种最近一次结束的记录
	now      func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		active:   make(map[string]*model.Position),
		outcomes: make(map[string]model.Position),
		now:      now,
	}
}

// TryReserve 币种没有记录时占位并返回 true，否则不做任何修改返回 false
func (l *Ledger) TryReserve(symbol string, timeframe model.Timeframe, sig model.Signal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[symbol]; ok {
		return false
	}
	l.active[symbol] = &model.Position{
		Symbol:        symbol,
		Timeframe:     timeframe,
		Side:          sig.Kind.Side(),
		PositionIndex: sig.Kind.PositionIndex(),
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		State:         model.StateReserved,
		Signal:        sig,
		ReservedAt:    l.now(),
	}
	return true
}

// Transition 只允许向前推进
func (l *Ledger) Transition(symbol string, to model.PositionState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[symbol]
	if !ok {
		return fmt.Errorf("no position for %s", symbol)
	}
	for _, next := range transitions[p.State] {
		if next == to {
			p.State = to
			if to == model.StateEntryFilled {
				p.OpenedAt = l.now()
			}
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for %s", p.State, to, symbol)
}

// Update 修改记录的其他字段，状态请用 Transition
func (l *Ledger) Update(symbol string, fn func(p *model.Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[symbol]
	if !ok {
		return false
	}
	state := p.State
	fn(p)
	p.State = state
	return true
}

// Release 移除记录，返回最后的快照，状态记为 Closed
func (l *Ledger) Release(symbol string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[symbol]
	if !ok {
		return model.Position{}, false
	}
	delete(l.active, symbol)

	final := clone(p)
	outcome := clone(p)
	outcome.State = model.StateClosed
	outcome.ClosedAt = l.now()
	if final.Reason == "" {
		outcome.Reason = string(final.State)
	}
	l.outcomes[symbol] = outcome
	return final, true
}

func (l *Ledger) Get(symbol string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.active[symbol]
	if !ok {
		return model.Position{}, false
	}
	return clone(p), true
}

// Snapshot 当前所有记录，按币种排序
func (l *Ledger) Snapshot() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LastOutcome 币种最近一次释放时的记录
func (l *Ledger) LastOutcome(symbol string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.outcomes[symbol]
	return p, ok
}

func (l *Ledger) Outcomes() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, 0, len(l.outcomes))
	for _, p := range l.outcomes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

func clone(p *model.Position) model.Position {
	cp := *p
	cp.TakeProfits = append([]float64(nil), p.TakeProfits...)
	cp.ProtectiveOrderIDs = append([]string(nil), p.ProtectiveOrderIDs...)
	return cp
}
