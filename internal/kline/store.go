package kline

import (
	"sort"
	"sync"

	"ggshot/internal/model"
)

// Store 按 币种+周期 缓存最近的K线
// 每个序列有自己的锁，不同序列的读写互不阻塞
type Store struct {
	mu       sync.RWMutex
	series   map[model.SeriesKey]*series
	capacity int
}

type series struct {
	mu      sync.RWMutex
	candles []model.Candle // 按时间升序，时间戳唯一
}

func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		series:   make(map[model.SeriesKey]*series),
		capacity: capacity,
	}
}

func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) get(key model.SeriesKey, create bool) *series {
	s.mu.RLock()
	ser, ok := s.series[key]
	s.mu.RUnlock()
	if ok || !create {
		return ser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok = s.series[key]; ok {
		return ser
	}
	ser = &series{}
	s.series[key] = ser
	return ser
}

// Merge 合并K线：相同时间戳后写覆盖，排序后只保留最新的 capacity 根
// 返回合并后的长度
func (s *Store) Merge(symbol string, timeframe model.Timeframe, candles ...model.Candle) int {
	ser := s.get(model.SeriesKey{Symbol: symbol, Timeframe: timeframe}, true)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	if len(candles) == 0 {
		return len(ser.candles)
	}

	byTs := make(map[int64]model.Candle, len(ser.candles)+len(candles))
	for _, c := range ser.candles {
		byTs[c.Timestamp] = c
	}
	for _, c := range candles {
		byTs[c.Timestamp] = c
	}

	merged := make([]model.Candle, 0, len(byTs))
	for _, c := range byTs {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	if len(merged) > s.capacity {
		merged = merged[len(merged)-s.capacity:]
	}
	// 新切片，读者拿到的旧副本不受影响
	ser.candles = merged
	return len(merged)
}

// Tail 最近 n 根K线的副本，n<=0 返回全部
func (s *Store) Tail(symbol string, timeframe model.Timeframe, n int) []model.Candle {
	ser := s.get(model.SeriesKey{Symbol: symbol, Timeframe: timeframe}, false)
	if ser == nil {
		return nil
	}

	ser.mu.RLock()
	defer ser.mu.RUnlock()

	start := 0
	if n > 0 && n < len(ser.candles) {
		start = len(ser.candles) - n
	}
	out := make([]model.Candle, len(ser.candles)-start)
	copy(out, ser.candles[start:])
	return out
}

func (s *Store) Len(symbol string, timeframe model.Timeframe) int {
	ser := s.get(model.SeriesKey{Symbol: symbol, Timeframe: timeframe}, false)
	if ser == nil {
		return 0
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return len(ser.candles)
}

// Keys 所有已存在的序列
func (s *Store) Keys() []model.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.SeriesKey, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
