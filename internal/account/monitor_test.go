package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"ggshot/internal/exchange"
	"ggshot/internal/metrics"
	"ggshot/internal/model"
	"ggshot/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReportSetsEquity(t *testing.T) {
	sim := exchange.NewSimulatedGateway()
	sim.SetBalance("USDT", 1234.5, 1000)

	bal, ok := NewMonitor(sim, "USDT", time.Minute).Report(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1000.0, bal.Available)
	assert.Equal(t, 1234.5, testutil.ToFloat64(metrics.Equity))
}

func TestReportFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.SetLogger(zap.New(core))
	defer logger.SetLogger(prev)

	sim := exchange.NewSimulatedGateway()
	sim.Fail(exchange.OpBalance, 1, exchange.Transient(exchange.OpBalance, errors.New("timeout")))

	_, ok := NewMonitor(sim, "", 0).Report(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("[Balance] query failed").Len())
}

func TestRunReportsOnTickUntilCancelled(t *testing.T) {
	sim := exchange.NewSimulatedGateway()
	sim.SetBalance("USDT", 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewMonitor(sim, "USDT", 10*time.Millisecond).Run(ctx) }()

	assert.Eventually(t, func() bool { return sim.Attempts(exchange.OpBalance) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestReportPositionsLogsChanges(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.SetLogger(zap.New(core))
	defer logger.SetLogger(prev)

	sim := exchange.NewSimulatedGateway()
	m := NewMonitor(sim, "USDT", time.Minute)
	ctx := context.Background()

	require.True(t, m.ReportPositions(ctx))
	assert.Zero(t, logs.Len())

	sim.AddPosition(model.PositionInfo{Symbol: "BTCUSDT", Side: model.Buy, PositionIndex: model.PositionIndexLong, Size: 0.5, EntryPrice: 50000})
	require.True(t, m.ReportPositions(ctx))
	opened := logs.FilterMessage("[Position] opened").All()
	require.Len(t, opened, 1)
	assert.Equal(t, "BTCUSDT", opened[0].ContextMap()["symbol"])

	// 无变化不打印
	require.True(t, m.ReportPositions(ctx))
	assert.Equal(t, 1, logs.Len())

	sim.AddPosition(model.PositionInfo{Symbol: "BTCUSDT", Side: model.Buy, PositionIndex: model.PositionIndexLong, Size: 0.2, EntryPrice: 50000})
	require.True(t, m.ReportPositions(ctx))
	changed := logs.FilterMessage("[Position] changed").All()
	require.Len(t, changed, 1)
	assert.Equal(t, 0.5, changed[0].ContextMap()["prev_size"])
	assert.Equal(t, 0.2, changed[0].ContextMap()["size"])

	sim.AddPosition(model.PositionInfo{Symbol: "BTCUSDT", Side: model.Buy, PositionIndex: model.PositionIndexLong, Size: 0})
	require.True(t, m.ReportPositions(ctx))
	assert.Equal(t, 1, logs.FilterMessage("[Position] closed").Len())
}

func TestReportPositionsFailureKeepsSnapshot(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.SetLogger(zap.New(core))
	defer logger.SetLogger(prev)

	sim := exchange.NewSimulatedGateway()
	sim.AddPosition(model.PositionInfo{Symbol: "SOLUSDT", Side: model.Sell, PositionIndex: model.PositionIndexShort, Size: 3})
	m := NewMonitor(sim, "USDT", time.Minute)
	ctx := context.Background()
	require.True(t, m.ReportPositions(ctx))

	sim.Fail(exchange.OpPositions, 1, exchange.Transient(exchange.OpPositions, errors.New("timeout")))
	assert.False(t, m.ReportPositions(ctx))
	assert.Equal(t, 1, logs.FilterMessage("[Position] query failed").Len())

	// 失败那次不算平仓
	require.True(t, m.ReportPositions(ctx))
	assert.Zero(t, logs.FilterMessage("[Position] closed").Len())
	assert.Equal(t, 1, logs.FilterMessage("[Position] opened").Len())
}
