package signal

import (
	"time"

	"ggshot/conf"
	"ggshot/internal/indicator"
	"ggshot/internal/model"
)

const (
	rsiOversold   = 30
	rsiOverbought = 70
)

// Bar 一根K线和它上面的指标
type Bar struct {
	Candle    model.Candle
	Indicator indicator.Snapshot
}

// Evaluate 对一个K线序列判断最新一根是否产生信号
// 少于 warmup 或少于2根时不产生信号
func Evaluate(candles []model.Candle, params conf.StrategyParams, warmup int) model.Signal {
	if len(candles) < 2 || len(candles) < warmup {
		return model.Signal{}
	}

	snaps := indicator.Compute(candles, indicator.DefaultConfig(params.IN1))
	n := len(candles)
	prev := Bar{Candle: candles[n-2], Indicator: snaps[n-2]}
	cur := Bar{Candle: candles[n-1], Indicator: snaps[n-1]}
	return Detect(prev, cur, params, params.Symbol, model.Timeframe(params.Timeframe))
}

// Detect 趋势 + 回踩EMA 的进场规则，四个条件必须同时满足
//
// 多: ema8 > ema13 > ema21, rsi > 30, 当前收盘在ema8上方, 前一根收盘在ema8下方
// 空: 镜像
func Detect(prev, cur Bar, params conf.StrategyParams, symbol string, timeframe model.Timeframe) model.Signal {
	ci, pi := cur.Indicator, prev.Indicator
	if !ci.Ready() || !pi.Ready() {
		return model.Signal{}
	}

	price, prevClose := cur.Candle.Close, prev.Candle.Close

	uptrend := ci.EMAShort > ci.EMAMedium && ci.EMAMedium > ci.EMALong
	downtrend := ci.EMAShort < ci.EMAMedium && ci.EMAMedium < ci.EMALong

	kind := model.SignalNone
	switch {
	case uptrend && ci.RSI > rsiOversold && price > ci.EMAShort && prevClose < pi.EMAShort:
		kind = model.SignalLong
	case downtrend && ci.RSI < rsiOverbought && price < ci.EMAShort && prevClose > pi.EMAShort:
		kind = model.SignalShort
	default:
		return model.Signal{}
	}

	return Levels(kind, price, params, symbol, timeframe, cur.Candle.Time())
}

// Levels 根据方向和入场价计算止损和止盈
func Levels(kind model.SignalKind, entry float64, params conf.StrategyParams, symbol string, timeframe model.Timeframe, at time.Time) model.Signal {
	dir := 1.0
	if kind == model.SignalShort {
		dir = -1
	}
	sl := params.SL / 100

	sig := model.Signal{
		Kind:       kind,
		Symbol:     symbol,
		Timeframe:  timeframe,
		EntryPrice: entry,
		StopLoss:   entry * (1 - dir*sl),
		TakeProfit: entry * (1 + dir*sl),
		CandleTime: at,
	}
	for i, tp := range params.TakeProfits() {
		sig.TakeProfits[i] = entry * (1 + dir*tp/100)
	}
	return sig
}
