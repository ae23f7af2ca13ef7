package risk

import (
	"context"
	"fmt"
	"math"
	"sync"

	"ggshot/internal/exchange"
	"ggshot/pkg/logger"
)

// 开仓前的风控：保证金占用上限 + 与上一笔成交价的最小价差
type Gate struct {
	acct           exchange.AccountReader
	asset          string
	maxMarginRatio float64            // 百分比，例如 20
	minPriceChange map[string]float64 // 比例，例如 0.02

	mu        sync.RWMutex
	lastTrade map[string]float64
}

// Decision 风控结果，拒绝不是错误
type Decision struct {
	Allowed     bool
	Reason      string
	MarginRatio float64
}

func NewGate(acct exchange.AccountReader, asset string, maxMarginRatio float64, minPriceChange map[string]float64) *Gate {
	mpc := make(map[string]float64, len(minPriceChange))
	for k, v := range minPriceChange {
		mpc[k] = v
	}
	return &Gate{
		acct:           acct,
		asset:          asset,
		maxMarginRatio: maxMarginRatio,
		minPriceChange: mpc,
		lastTrade:      make(map[string]float64),
	}
}

// Check 是否允许对 symbol 以 price 开新仓
// 返回 error 表示查询账户失败，本周期跳过
func (g *Gate) Check(ctx context.Context, symbol string, price float64) (Decision, error) {
	// 先检查价差，不需要网络请求
	if ok, change := g.cooldownOK(symbol, price); !ok {
		return Decision{
			Reason: fmt.Sprintf("price change %.4f below minimum %.4f", change, g.minPriceChange[symbol]),
		}, nil
	}

	ratio, err := g.MarginRatio(ctx)
	if err != nil {
		return Decision{}, err
	}
	if ratio > g.maxMarginRatio {
		return Decision{
			Reason:      fmt.Sprintf("margin usage %.2f%% above %.2f%%", ratio, g.maxMarginRatio),
			MarginRatio: ratio,
		}, nil
	}
	return Decision{Allowed: true, MarginRatio: ratio}, nil
}

// MarginRatio 所有持仓占用保证金 / 总权益 * 100，权益<=0 时为0
func (g *Gate) MarginRatio(ctx context.Context) (float64, error) {
	bal, err := g.acct.GetWalletBalance(ctx, g.asset)
	if err != nil {
		return 0, fmt.Errorf("get wallet balance: %w", err)
	}
	positions, err := g.acct.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("get open positions: %w", err)
	}

	used := 0.0
	for _, p := range positions {
		used += p.Margin()
	}

	ratio := 0.0
	if bal.Total > 0 {
		ratio = used / bal.Total * 100
	}
	logger.Debugf("[RiskGate] equity %.2f %s, margin used %.2f, usage %.2f%%", bal.Total, g.asset, used, ratio)
	return ratio, nil
}

func (g *Gate) cooldownOK(symbol string, price float64) (bool, float64) {
	minChange, ok := g.minPriceChange[symbol]
	if !ok || minChange <= 0 {
		return true, 0
	}
	last, ok := g.LastTradePrice(symbol)
	if !ok || last <= 0 {
		return true, 0
	}
	change := math.Abs(price-last) / last
	return change >= minChange, change
}

// RecordTrade 记录开仓价，之后的信号需要与它拉开价差
func (g *Gate) RecordTrade(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTrade[symbol] = price
}

func (g *Gate) LastTradePrice(symbol string) (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.lastTrade[symbol]
	return p, ok
}

func (g *Gate) LastTradePrices() map[string]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]float64, len(g.lastTrade))
	for k, v := range g.lastTrade {
		out[k] = v
	}
	return out
}
