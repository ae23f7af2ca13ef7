package indicator

import (
	"math"

	"ggshot/internal/model"
	"github.com/markcheno/go-talib"
)

// Config 指标周期
type Config struct {
	EMAShort  int
	EMAMedium int
	EMALong   int
	RSI       int
	ATR       int
	Range     int // 支撑阻力回看窗口 IN1
}

func DefaultConfig(in1 int) Config {
	return Config{
		EMAShort:  8,
		EMAMedium: 13,
		EMALong:   21,
		RSI:       14,
		ATR:       14,
		Range:     in1,
	}
}

// Snapshot 某根K线上的指标值，NaN 表示还没预热完
type Snapshot struct {
	EMAShort    float64 `json:"ema_short"`
	EMAMedium   float64 `json:"ema_medium"`
	EMALong     float64 `json:"ema_long"`
	RSI         float64 `json:"rsi"`
	ATR         float64 `json:"atr"`
	HighestHigh float64 `json:"highest_high"`
	LowestLow   float64 `json:"lowest_low"`
}

// Ready 信号判断需要的指标是否都有值
func (s Snapshot) Ready() bool {
	return !math.IsNaN(s.EMAShort) && !math.IsNaN(s.EMAMedium) &&
		!math.IsNaN(s.EMALong) && !math.IsNaN(s.RSI)
}

// Compute 计算每根K线上的指标，返回长度与输入相同
// 纯函数，不修改输入
func Compute(candles []model.Candle, cfg Config) []Snapshot {
	n := len(candles)
	if n == 0 {
		return nil
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	emaS := ema(closes, cfg.EMAShort)
	emaM := ema(closes, cfg.EMAMedium)
	emaL := ema(closes, cfg.EMALong)
	rsiVals := rsi(closes, cfg.RSI)
	atrVals := atr(highs, lows, closes, cfg.ATR)
	hh := rolling(highs, cfg.Range, talib.Max)
	ll := rolling(lows, cfg.Range, talib.Min)

	out := make([]Snapshot, n)
	for i := range out {
		out[i] = Snapshot{
			EMAShort:    emaS[i],
			EMAMedium:   emaM[i],
			EMALong:     emaL[i],
			RSI:         rsiVals[i],
			ATR:         atrVals[i],
			HighestHigh: hh[i],
			LowestLow:   ll[i],
		}
	}
	return out
}

// talib 对过短的输入会越界，且预热段填0，这里统一换成 NaN
func absent(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func mask(vals []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(vals); i++ {
		vals[i] = math.NaN()
	}
	return vals
}

func ema(closes []float64, period int) []float64 {
	if period < 1 || len(closes) < period {
		return absent(len(closes))
	}
	return mask(talib.Ema(closes, period), period-1)
}

func rsi(closes []float64, period int) []float64 {
	if period < 2 || len(closes) <= period {
		return absent(len(closes))
	}
	return mask(talib.Rsi(closes, period), period)
}

func atr(highs, lows, closes []float64, period int) []float64 {
	if period < 1 || len(closes) <= period {
		return absent(len(closes))
	}
	return mask(talib.Atr(highs, lows, closes, period), period)
}

func rolling(vals []float64, period int, fn func([]float64, int) []float64) []float64 {
	if period < 2 || len(vals) < period {
		return absent(len(vals))
	}
	return mask(fn(vals, period), period-1)
}
