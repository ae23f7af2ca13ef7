package logger

import (
	"path/filepath"
	"testing"

	"ggshot/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPackageLevelFunctionsUseReplacedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	Info("[Test] hello", Pair("symbol", "BTCUSDT"))
	Errorf("[Test] failed %d", 3)
	Debugf("[Test] debug %s", "x")

	require.Equal(t, 3, logs.Len())
	entries := logs.AllUntimed()
	assert.Equal(t, "[Test] hello", entries[0].Message)
	assert.Equal(t, "BTCUSDT", entries[0].ContextMap()["symbol"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "[Test] failed 3", entries[1].Message)
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := L()
	defer SetLogger(prev)

	file := filepath.Join(t.TempDir(), "ggshot.log")
	InitLogger(&conf.LogConfig{Level: "debug", FileName: file, MaxSize: 1}, "ggshot")
	Info("[Test] file")
	Sync()

	assert.FileExists(t, file)
}

func TestInitLoggerBadLevelFallsBackToInfo(t *testing.T) {
	prev := L()
	defer SetLogger(prev)

	InitLogger(&conf.LogConfig{Level: "nope"}, "ggshot")
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
}
