package signal

import (
	"math"
	"testing"

	"ggshot/conf"
	"ggshot/internal/indicator"
	"ggshot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc1h = conf.StrategyParams{
	Symbol: "BTCUSDT", Timeframe: "1H", IN1: 2100, IN2: 8,
	TP1: 2.3, TP2: 4.6, TP3: 6.9, TP4: 13.8, SL: 2.3,
}

func series(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		out[i] = model.Candle{
			Timestamp: int64(i) * 3600_000,
			Open:      prev,
			High:      math.Max(prev, c) + 1,
			Low:       math.Min(prev, c) - 1,
			Close:     c,
		}
		prev = c
	}
	return out
}

// 60根上涨，回踩到ema8下方，再收回ema8上方
func pullbackLong() []model.Candle {
	closes := make([]float64, 0, 62)
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i))
	}
	return series(append(closes, 154, 160)...)
}

func pullbackShort() []model.Candle {
	closes := make([]float64, 0, 62)
	for i := 0; i < 60; i++ {
		closes = append(closes, 300-float64(i))
	}
	return series(append(closes, 246, 240)...)
}

func TestEvaluateLong(t *testing.T) {
	sig := Evaluate(pullbackLong(), btc1h, 50)
	require.Equal(t, model.SignalLong, sig.Kind)

	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, model.Timeframe("1H"), sig.Timeframe)
	assert.Equal(t, 160.0, sig.EntryPrice)
	assert.InDelta(t, 156.32, sig.StopLoss, 1e-9)
	assert.InDelta(t, 163.68, sig.TakeProfit, 1e-9)
	assert.InDelta(t, 163.68, sig.TakeProfits[0], 1e-9)
	assert.InDelta(t, 167.36, sig.TakeProfits[1], 1e-9)
	assert.InDelta(t, 171.04, sig.TakeProfits[2], 1e-9)
	assert.InDelta(t, 182.08, sig.TakeProfits[3], 1e-9)
	assert.Equal(t, int64(61)*3600_000, sig.CandleTime.UnixMilli())
}

func TestEvaluateShort(t *testing.T) {
	sig := Evaluate(pullbackShort(), btc1h, 50)
	require.Equal(t, model.SignalShort, sig.Kind)
	assert.Equal(t, 240.0, sig.EntryPrice)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
	for i := 1; i < 4; i++ {
		assert.Less(t, sig.TakeProfits[i], sig.TakeProfits[i-1])
	}
}

func TestEvaluatePreconditions(t *testing.T) {
	cs := pullbackLong()
	assert.True(t, Evaluate(cs, btc1h, 100).IsNone(), "warm-up not reached")
	assert.True(t, Evaluate(cs[:1], btc1h, 1).IsNone(), "need two bars")
	assert.True(t, Evaluate(nil, btc1h, 0).IsNone())

	// 没有回踩
	assert.True(t, Evaluate(cs[:60], btc1h, 50).IsNone())
	// 回踩那根本身不是信号
	assert.True(t, Evaluate(cs[:61], btc1h, 50).IsNone())
}

func TestEvaluateIsPure(t *testing.T) {
	cs := pullbackLong()
	a := Evaluate(cs, btc1h, 50)
	b := Evaluate(cs, btc1h, 50)
	assert.Equal(t, a, b)
}

func snap(s, m, l, rsi float64) indicator.Snapshot {
	return indicator.Snapshot{EMAShort: s, EMAMedium: m, EMALong: l, RSI: rsi, ATR: math.NaN(), HighestHigh: math.NaN(), LowestLow: math.NaN()}
}

func TestDetectConditions(t *testing.T) {
	bar := func(close float64, s indicator.Snapshot) Bar {
		return Bar{Candle: model.Candle{Close: close}, Indicator: s}
	}
	prevUp := bar(99, snap(100, 98, 96, 60))
	prevDown := bar(101, snap(100, 102, 104, 40))

	cases := []struct {
		name string
		prev Bar
		cur  Bar
		want model.SignalKind
	}{
		{"long", prevUp, bar(102, snap(101, 99, 97, 55)), model.SignalLong},
		{"long rsi oversold", prevUp, bar(102, snap(101, 99, 97, 30)), model.SignalNone},
		{"long no trend", prevUp, bar(102, snap(101, 102, 97, 55)), model.SignalNone},
		{"long close under ema", prevUp, bar(100.5, snap(101, 99, 97, 55)), model.SignalNone},
		{"long prev above ema", bar(101, snap(100, 98, 96, 60)), bar(102, snap(101, 99, 97, 55)), model.SignalNone},
		{"short", prevDown, bar(98, snap(99, 101, 103, 45)), model.SignalShort},
		{"short rsi overbought", prevDown, bar(98, snap(99, 101, 103, 70)), model.SignalNone},
		{"short prev below ema", bar(99, snap(100, 102, 104, 40)), bar(98, snap(99, 101, 103, 45)), model.SignalNone},
		{"absent indicator", prevUp, bar(102, snap(101, 99, math.NaN(), 55)), model.SignalNone},
		{"absent prev", bar(99, snap(math.NaN(), 98, 96, 60)), bar(102, snap(101, 99, 97, 55)), model.SignalNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.prev, tc.cur, btc1h, "BTCUSDT", "1H")
			assert.Equal(t, tc.want, got.Kind)
		})
	}
}
