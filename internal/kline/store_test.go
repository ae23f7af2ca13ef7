package kline

import (
	"fmt"
	"sync"
	"testing"

	"ggshot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candle(ts int64, close float64) model.Candle {
	return model.Candle{Timestamp: ts, Open: close, High: close + 1, Low: close - 1, Close: close}
}

func TestMergeBoundedOrderedUnique(t *testing.T) {
	s := NewStore(5)

	// 乱序 + 批内重复
	n := s.Merge("BTCUSDT", "1H", candle(3, 3), candle(1, 1), candle(2, 2), candle(3, 30))
	assert.Equal(t, 3, n)

	got := s.Tail("BTCUSDT", "1H", 0)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, timestamps(got))
	assert.Equal(t, 30.0, got[2].Close, "last write wins inside a batch")

	// 覆盖已存在的时间戳
	s.Merge("BTCUSDT", "1H", candle(2, 20))
	assert.Equal(t, 20.0, s.Tail("BTCUSDT", "1H", 0)[1].Close)

	// 超过容量丢弃最旧
	for i := int64(4); i <= 10; i++ {
		s.Merge("BTCUSDT", "1H", candle(i, float64(i)))
	}
	got = s.Tail("BTCUSDT", "1H", 0)
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, timestamps(got))
	assert.Equal(t, 5, s.Len("BTCUSDT", "1H"))

	// 旧于窗口的K线进不来
	s.Merge("BTCUSDT", "1H", candle(1, 1))
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, timestamps(s.Tail("BTCUSDT", "1H", 0)))
}

func TestTailReturnsCopy(t *testing.T) {
	s := NewStore(10)
	s.Merge("ETHUSDT", "30m", candle(1, 1), candle(2, 2), candle(3, 3))

	tail := s.Tail("ETHUSDT", "30m", 2)
	assert.Equal(t, []int64{2, 3}, timestamps(tail))
	tail[0].Close = 999

	assert.Equal(t, 2.0, s.Tail("ETHUSDT", "30m", 2)[0].Close)
	assert.Len(t, s.Tail("ETHUSDT", "30m", 50), 3)
}

func TestUnknownSeries(t *testing.T) {
	s := NewStore(10)
	assert.Nil(t, s.Tail("SOLUSDT", "1H", 5))
	assert.Equal(t, 0, s.Len("SOLUSDT", "1H"))
	assert.Empty(t, s.Keys())

	assert.Equal(t, 0, s.Merge("SOLUSDT", "1H"))
	assert.Equal(t, []model.SeriesKey{{Symbol: "SOLUSDT", Timeframe: "1H"}}, s.Keys())
}

func TestConcurrentMerge(t *testing.T) {
	s := NewStore(100)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			symbol := fmt.Sprintf("S%dUSDT", g%2)
			for i := 0; i < 200; i++ {
				s.Merge(symbol, "1H", candle(int64(i), float64(i)))
				_ = s.Tail(symbol, "1H", 10)
			}
		}(g)
	}
	wg.Wait()

	for _, k := range s.Keys() {
		got := s.Tail(k.Symbol, k.Timeframe, 0)
		require.Len(t, got, 100)
		assert.Equal(t, int64(100), got[0].Timestamp)
		assert.Equal(t, int64(199), got[99].Timestamp)
	}
}

func timestamps(cs []model.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Timestamp
	}
	return out
}
