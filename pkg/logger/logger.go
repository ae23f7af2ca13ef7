package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"ggshot/conf"
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// InitLogger 初始化全局日志，json写入滚动文件，可选同时输出到控制台
func InitLogger(c *conf.LogConfig, appName string) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	timeFormat := c.TimeFormat
	if timeFormat == "" {
		timeFormat = time.DateTime + ".000"
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	if c.FileName != "" {
		w := &lumberjack.Logger{
			Filename:   c.FileName,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
			LocalTime:  c.LocalTime,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level))
	}
	if c.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("app", appName))
	SetLogger(l)
}

// SetLogger 替换全局日志，测试里用 observer
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Pair 构造一个日志字段
func Pair(key string, v interface{}) zap.Field {
	return zap.Any(key, v)
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { L().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { L().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { L().Error(fmt.Sprintf(format, args...)) }
func Fatalf(format string, args ...interface{}) { L().Fatal(fmt.Sprintf(format, args...)) }

// Sync 退出前刷新缓冲
func Sync() {
	_ = L().Sync()
}
