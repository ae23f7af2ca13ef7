package strategy

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"ggshot/conf"
	"ggshot/internal/exchange"
	"ggshot/internal/execution"
	"ggshot/internal/kline"
	"ggshot/internal/model"
	"ggshot/internal/position"
	"ggshot/internal/risk"
	"ggshot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const hour = int64(3600_000)

func candle(i int, prev, c float64) model.Candle {
	return model.Candle{
		Timestamp: int64(i) * hour,
		Open:      prev,
		High:      math.Max(prev, c) + 1,
		Low:       math.Min(prev, c) - 1,
		Close:     c,
	}
}

// 60根上涨 + 一根回踩到 ema8 下方；第62根收回 ema8 上方时出多头信号
func history() []model.Candle {
	out := make([]model.Candle, 0, 61)
	prev := 100.0
	for i := 0; i < 60; i++ {
		c := 100 + float64(i)
		out = append(out, candle(i, prev, c))
		prev = c
	}
	return append(out, candle(60, prev, 154))
}

func trigger(symbol string, tf model.Timeframe) model.CandleUpdate {
	return model.CandleUpdate{Symbol: symbol, Timeframe: tf, Candle: candle(61, 154, 160), Confirmed: true}
}

func testConfig() conf.StrategyConfig {
	cfg := conf.Default().Strategy
	cfg.ProtectiveDelay = 0
	cfg.Subscriptions = []conf.Subscription{{Symbol: "BTCUSDT", Timeframes: []string{"1H", "30m"}}}
	cfg.Params = []conf.StrategyParams{
		{Symbol: "BTCUSDT", Timeframe: "1H", IN1: 200, TP1: 2.3, TP2: 4.6, TP3: 6.9, TP4: 13.8, SL: 2.3},
		{Symbol: "BTCUSDT", Timeframe: "30m", IN1: 200, TP1: 2.3, TP2: 4.6, TP3: 6.9, TP4: 13.8, SL: 2.3},
	}
	return cfg
}

type harness struct {
	sim    *exchange.SimulatedGateway
	ledger *position.Ledger
	gate   *risk.Gate
	engine *Engine
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg conf.StrategyConfig) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	prev := logger.L()
	logger.SetLogger(zap.New(core))
	t.Cleanup(func() { logger.SetLogger(prev) })

	sim := exchange.NewSimulatedGateway()
	sim.SetBalance("USDT", 1000, 1000)
	sim.SetCandles("BTCUSDT", "1H", history())
	sim.SetCandles("BTCUSDT", "30m", history())

	ledger := position.NewLedger(nil)
	gate := risk.NewGate(sim, "USDT", cfg.MaxMarginRatio, cfg.MinPriceChange)
	exec := execution.NewExecutor(sim, sim, gate, ledger,
		execution.ContractSizer{RiskPct: cfg.RiskPct}, execution.LadderProtection{TriggerBy: model.TriggerByMark},
		execution.Options{QuoteAsset: "USDT", HedgeMode: true, PricePrecision: 2, ProtectiveRetries: cfg.ProtectiveRetries})

	e, err := NewEngine(cfg, true, Deps{
		Market: sim, Trader: sim, Store: kline.NewStore(cfg.MaxCandles),
		Ledger: ledger, Gate: gate, Executor: exec,
	})
	require.NoError(t, err)
	return &harness{sim: sim, ledger: ledger, gate: gate, engine: e, logs: logs}
}

func entries(sim *exchange.SimulatedGateway) []exchange.SimOrder {
	var out []exchange.SimOrder
	for _, o := range sim.Orders() {
		if o.Op == exchange.OpEntry {
			out = append(out, o)
		}
	}
	return out
}

func TestEngine_SignalToProtectedPosition(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.engine.Start(context.Background()))
	assert.True(t, h.sim.HedgeMode())
	assert.Equal(t, 1, h.sim.Subscribers("BTCUSDT", "1H"))

	st := h.engine.Status()
	require.Len(t, st.Streams, 2)
	assert.Equal(t, 61, st.Streams[0].Candles)

	h.sim.Feed(trigger("BTCUSDT", "1H"))
	require.NoError(t, h.engine.Stop())

	orders := entries(h.sim)
	require.Len(t, orders, 1)
	assert.Equal(t, model.Buy, orders[0].Side)
	assert.Equal(t, 20.0, orders[0].Quantity)
	assert.Equal(t, 160.0, orders[0].Price)
	assert.Equal(t, model.PositionIndexLong, orders[0].PositionIndex)

	out, ok := h.ledger.LastOutcome("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, string(model.StateProtected), out.Reason)
	assert.Len(t, out.ProtectiveOrderIDs, 5)
	assert.Equal(t, []float64{163.68, 167.36, 171.04, 182.08}, out.TakeProfits)

	assert.Equal(t, 0, h.sim.Subscribers("BTCUSDT", "1H"), "unsubscribed on stop")
	assert.False(t, h.engine.Status().Running)
	assert.Equal(t, 62, h.engine.Status().Streams[0].Candles)
}

func TestEngine_OneEntryAcrossTimeframes(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.engine.Start(context.Background()))

	var wg sync.WaitGroup
	for _, tf := range []model.Timeframe{"1H", "30m"} {
		wg.Add(1)
		go func(tf model.Timeframe) {
			defer wg.Done()
			h.sim.Feed(trigger("BTCUSDT", tf))
		}(tf)
	}
	wg.Wait()
	require.NoError(t, h.engine.Stop())

	// 另一个周期要么被占位挡住，要么被价差冷却挡住
	assert.Len(t, entries(h.sim), 1)
	assert.Equal(t, 0, h.ledger.Active())
	last, ok := h.gate.LastTradePrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 160.0, last)
}

func TestEngine_ConfirmedOnlySkipsOpenBars(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmedOnly = true
	h := newHarness(t, cfg)
	require.NoError(t, h.engine.Start(context.Background()))

	u := trigger("BTCUSDT", "1H")
	u.Confirmed = false
	h.sim.Feed(u)
	require.NoError(t, h.engine.Stop())

	assert.Empty(t, entries(h.sim))
	st := h.engine.Status()
	assert.Equal(t, int64(1), st.Streams[0].Updates)
	assert.Equal(t, int64(0), st.Streams[0].Signals)
	assert.Equal(t, 160.0, st.Streams[0].LastClose, "bar still merged")
}

func TestEngine_BackfillFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sim.Fail(exchange.OpCandles, -1, exchange.Transient(exchange.OpCandles, errors.New("timeout")))

	require.NoError(t, h.engine.Start(context.Background()))
	assert.Equal(t, 0, h.engine.Status().Streams[0].Candles)
	assert.Equal(t, 1, h.logs.FilterMessage("[Engine] backfill incomplete").Len())

	// 数据不足时不出信号
	h.sim.Feed(trigger("BTCUSDT", "1H"))
	require.NoError(t, h.engine.Stop())
	assert.Empty(t, entries(h.sim))
}

func TestEngine_RejectedEntryFreesSymbol(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sim.Fail(exchange.OpEntry, 1, nil)
	require.NoError(t, h.engine.Start(context.Background()))

	h.sim.Feed(trigger("BTCUSDT", "1H"))
	require.NoError(t, h.engine.Stop())

	out, ok := h.ledger.LastOutcome("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, model.StateClosed, out.State)
	assert.Equal(t, 0, h.ledger.Active())
	_, traded := h.gate.LastTradePrice("BTCUSDT")
	assert.False(t, traded)
}

func TestEngine_StopIsIdempotentAndDropsLateUpdates(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Stop())

	// 停止后的推送不会 panic
	h.engine.enqueue(h.engine.streams[0], trigger("BTCUSDT", "1H"))
	assert.Empty(t, entries(h.sim))
}

func TestNewEngine_MissingParams(t *testing.T) {
	cfg := testConfig()
	cfg.Subscriptions = append(cfg.Subscriptions, conf.Subscription{Symbol: "XRPUSDT", Timeframes: []string{"1H"}})
	_, err := NewEngine(cfg, false, Deps{
		Market: exchange.NewSimulatedGateway(), Store: kline.NewStore(10),
		Ledger: position.NewLedger(nil), Executor: &execution.Executor{},
	})
	assert.Error(t, err)
}
