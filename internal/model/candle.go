package model

import "time"

// Candle 一根K线，Timestamp(毫秒)是唯一键
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`   // 成交量 以币为单位
	Turnover  float64 `json:"turnover"` // 成交额 以USDT为单位
}

func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// 周期，使用okx的bar写法: 15m 30m 1H 4H
type Timeframe string

// CandleUpdate 推送的K线，带上来源的币种和周期
type CandleUpdate struct {
	Symbol    string
	Timeframe Timeframe
	Candle    Candle
	Confirmed bool // 是否已收盘
}

// SeriesKey 一个K线序列的键
type SeriesKey struct {
	Symbol    string
	Timeframe Timeframe
}

func (k SeriesKey) String() string {
	return k.Symbol + "-" + string(k.Timeframe)
}
