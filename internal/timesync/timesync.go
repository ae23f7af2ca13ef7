package timesync

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"ggshot/internal/exchange"
	"ggshot/internal/metrics"
	"ggshot/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultSamples = 5
	DefaultPause   = 100 * time.Millisecond
)

var ErrNoSamples = errors.New("no server time samples")

// Estimate 采样多次服务器时间，每次用请求前后的中点作为本地时间，取偏移的中位数
// 全部失败时返回 0 和 ErrNoSamples
func Estimate(ctx context.Context, clock exchange.ServerClock, samples int, pause time.Duration) (int64, error) {
	if samples <= 0 {
		samples = DefaultSamples
	}

	offsets := make([]int64, 0, samples)
	var lastErr error
	for i := 0; i < samples; i++ {
		start := time.Now().UnixMilli()
		server, err := clock.GetServerTime(ctx)
		end := time.Now().UnixMilli()
		if err != nil {
			lastErr = err
			logger.Warn("[TimeSync] server time sample failed", zap.Int("sample", i), zap.Error(err))
		} else {
			offsets = append(offsets, server-(start+end)/2)
		}

		if i < samples-1 && pause > 0 {
			select {
			case <-ctx.Done():
				return medianOrZero(offsets, ctx.Err())
			case <-time.After(pause):
			}
		}
	}
	return medianOrZero(offsets, lastErr)
}

func medianOrZero(offsets []int64, err error) (int64, error) {
	if len(offsets) == 0 {
		if err == nil {
			return 0, ErrNoSamples
		}
		return 0, errors.Join(ErrNoSamples, err)
	}
	return Median(offsets), nil
}

// Median 偶数个时取中间两个的平均值，向零取整
func Median(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Clock 本地时间加上与交易所的偏移
type Clock struct {
	offset atomic.Int64
}

func NewClock(offsetMs int64) *Clock {
	c := &Clock{}
	c.SetOffset(offsetMs)
	return c
}

func (c *Clock) SetOffset(offsetMs int64) {
	c.offset.Store(offsetMs)
	metrics.ClockOffset.Set(float64(offsetMs))
}

func (c *Clock) Offset() int64 {
	return c.offset.Load()
}

func (c *Clock) NowMs() int64 {
	return time.Now().UnixMilli() + c.offset.Load()
}

func (c *Clock) Now() time.Time {
	return time.UnixMilli(c.NowMs())
}

// Sync 重新估算并更新偏移，失败时保留原值
func (c *Clock) Sync(ctx context.Context, clock exchange.ServerClock) error {
	offset, err := Estimate(ctx, clock, DefaultSamples, DefaultPause)
	if err != nil {
		logger.Error("[TimeSync] estimate failed, keep previous offset",
			zap.Int64("offset_ms", c.Offset()), zap.Error(err))
		return err
	}
	c.SetOffset(offset)
	logger.Info("[TimeSync] offset with server", zap.Int64("offset_ms", offset))
	return nil
}
