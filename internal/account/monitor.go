package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ggshot/internal/exchange"
	"ggshot/internal/metrics"
	"ggshot/internal/model"
	"ggshot/pkg/logger"

	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Minute

// Monitor 定时打印账户余额和持仓变化，只读
// 不订阅私有频道，持仓变化靠轮询前后两次快照对比
type Monitor struct {
	acct     exchange.AccountReader
	asset    string
	interval time.Duration

	mu        sync.Mutex
	positions map[string]model.PositionInfo
}

func NewMonitor(acct exchange.AccountReader, asset string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if asset == "" {
		asset = "USDT"
	}
	return &Monitor{acct: acct, asset: asset, interval: interval}
}

// Run 启动时先报告一次，之后每 interval 报告一次，直到 ctx 结束
func (m *Monitor) Run(ctx context.Context) error {
	m.Report(ctx)
	m.ReportPositions(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Report(ctx)
			m.ReportPositions(ctx)
		}
	}
}

// Report 查询一次余额，失败只记录日志
func (m *Monitor) Report(ctx context.Context) (model.Balance, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bal, err := m.acct.GetWalletBalance(reqCtx, m.asset)
	if err != nil {
		logger.Warn("[Balance] query failed", zap.String("asset", m.asset), zap.Error(err))
		return model.Balance{}, false
	}
	metrics.Equity.Set(bal.Total)
	logger.Infof("[Balance] %s 总权益: %.2f 可用: %.2f", m.asset, bal.Total, bal.Available)
	return bal, true
}

// ReportPositions 查询持仓并和上一次快照对比，打印开仓/变化/平仓
// 启动后第一次查询，已有持仓按开仓打印
func (m *Monitor) ReportPositions(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := m.acct.GetOpenPositions(reqCtx)
	if err != nil {
		logger.Warn("[Position] query failed", zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := make(map[string]model.PositionInfo, len(list))
	for _, p := range list {
		if p.Size > 0 {
			cur[positionKey(p)] = p
		}
	}

	keys := make([]string, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := cur[k]
		prev, ok := m.positions[k]
		switch {
		case !ok:
			logger.Info("[Position] opened", positionFields(p)...)
		case prev.Size != p.Size:
			logger.Info("[Position] changed", append(positionFields(p), zap.Float64("prev_size", prev.Size))...)
		}
	}
	for k, prev := range m.positions {
		if _, ok := cur[k]; !ok {
			logger.Info("[Position] closed", positionFields(prev)...)
		}
	}
	m.positions = cur
	return true
}

func positionKey(p model.PositionInfo) string {
	return fmt.Sprintf("%s/%d", p.Symbol, p.PositionIndex)
}

func positionFields(p model.PositionInfo) []zap.Field {
	return []zap.Field{
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Int("position_idx", int(p.PositionIndex)),
		zap.Float64("size", p.Size),
		zap.Float64("entry", p.EntryPrice),
	}
}
