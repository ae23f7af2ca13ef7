package strategy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ggshot/conf"
	"ggshot/internal/exchange"
	"ggshot/internal/execution"
	"ggshot/internal/kline"
	"ggshot/internal/metrics"
	"ggshot/internal/model"
	"ggshot/internal/position"
	"ggshot/internal/risk"
	"ggshot/internal/signal"
	"ggshot/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deps 引擎依赖的组件
type Deps struct {
	Market   exchange.MarketData
	Trader   exchange.Trader
	Store    *kline.Store
	Ledger   *position.Ledger
	Gate     *risk.Gate
	Executor *execution.Executor
}

// stream 一个 (币种, 周期) 的行情流，单独一个 worker 消费
type stream struct {
	key     model.SeriesKey
	params  conf.StrategyParams
	ch      chan model.CandleUpdate
	sub     exchange.Subscription
	updates atomic.Int64
	signals atomic.Int64
}

// Engine 行情 -> K线存储 -> 信号 -> 占位 -> 执行
type Engine struct {
	cfg       conf.StrategyConfig
	hedgeMode bool
	deps      Deps
	streams   []*stream

	mu      sync.Mutex
	running bool
	live    atomic.Bool
	ctx     context.Context

	// 保护 channel 关闭，回调持读锁发送
	sendMu sync.RWMutex
	closed bool

	workers  sync.WaitGroup
	inflight sync.WaitGroup
}

func NewEngine(cfg conf.StrategyConfig, hedgeMode bool, deps Deps) (*Engine, error) {
	if deps.Market == nil || deps.Store == nil || deps.Ledger == nil || deps.Executor == nil {
		return nil, errors.New("engine: missing dependency")
	}
	e := &Engine{cfg: cfg, hedgeMode: hedgeMode, deps: deps}
	for _, sub := range cfg.Subscriptions {
		for _, tf := range sub.Timeframes {
			params, ok := cfg.Lookup(sub.Symbol, tf)
			if !ok {
				return nil, fmt.Errorf("engine: no strategy params for %s %s", sub.Symbol, tf)
			}
			e.streams = append(e.streams, &stream{
				key:    model.SeriesKey{Symbol: sub.Symbol, Timeframe: model.Timeframe(tf)},
				params: params,
			})
		}
	}
	if len(e.streams) == 0 {
		return nil, errors.New("engine: no subscriptions")
	}
	return e, nil
}

// Start 开启对冲模式，回填历史K线，然后订阅实时K线
// 回填失败不影响启动；所有订阅都失败时返回错误
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine already running")
	}
	e.ctx = ctx

	if e.hedgeMode && e.deps.Trader != nil {
		if err := e.deps.Trader.SetHedgeMode(ctx, true); err != nil {
			logger.Warn("[Engine] enable hedge mode failed", zap.Error(err))
		} else {
			logger.Info("[Engine] hedge mode enabled")
		}
	}

	if err := e.backfill(ctx); err != nil {
		logger.Warn("[Engine] backfill incomplete", zap.Error(err))
	}

	queue := max(e.cfg.QueueSize, 1)
	e.sendMu.Lock()
	e.closed = false
	for _, s := range e.streams {
		s.ch = make(chan model.CandleUpdate, queue)
		e.workers.Add(1)
		go e.work(s, s.ch)
	}
	e.sendMu.Unlock()

	var errs error
	subscribed := 0
	for _, s := range e.streams {
		sub, err := e.deps.Market.SubscribeCandles(ctx, s.key.Symbol, s.key.Timeframe, func(u model.CandleUpdate) {
			e.enqueue(s, u)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscribe %s: %w", s.key, err))
			continue
		}
		s.sub = sub
		subscribed++
	}
	e.running = true
	e.live.Store(true)

	if errs != nil {
		logger.Error("[Engine] subscribe failed", zap.Error(errs))
	}
	if subscribed == 0 {
		e.running = false
		e.live.Store(false)
		_ = e.shutdown()
		return fmt.Errorf("engine: no stream subscribed: %w", errs)
	}
	logger.Info("[Engine] started", zap.Int("streams", subscribed))
	return nil
}

func (e *Engine) backfill(ctx context.Context) error {
	var errs error
	for _, s := range e.streams {
		candles, err := e.deps.Market.GetHistoricalCandles(ctx, s.key.Symbol, s.key.Timeframe, e.cfg.MaxCandles)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("backfill %s: %w", s.key, err))
			continue
		}
		n := e.deps.Store.Merge(s.key.Symbol, s.key.Timeframe, candles...)
		logger.Info("[Engine] backfill", zap.String("stream", s.key.String()), zap.Int("candles", n))
	}
	return errs
}

func (e *Engine) enqueue(s *stream, u model.CandleUpdate) {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.closed {
		return
	}
	s.ch <- u
}

func (e *Engine) work(s *stream, ch <-chan model.CandleUpdate) {
	defer e.workers.Done()
	for u := range ch {
		e.handle(s, u)
	}
}

func (e *Engine) handle(s *stream, u model.CandleUpdate) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Engine] stream handler panic",
				zap.String("stream", s.key.String()),
				zap.Any("recover", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	s.updates.Add(1)
	metrics.CandlesReceived.WithLabelValues(s.key.Symbol, string(s.key.Timeframe)).Inc()
	e.deps.Store.Merge(s.key.Symbol, s.key.Timeframe, u.Candle)
	if e.cfg.ConfirmedOnly && !u.Confirmed {
		return
	}

	candles := e.deps.Store.Tail(s.key.Symbol, s.key.Timeframe, 0)
	sig := signal.Evaluate(candles, s.params, e.cfg.WarmupCandles)
	if sig.IsNone() {
		return
	}
	s.signals.Add(1)
	metrics.Signals.WithLabelValues(sig.Symbol, string(sig.Timeframe), sig.Kind.String()).Inc()
	logger.Info(fmt.Sprintf("[Signal] %s %s %s 入场=%.4f 止损=%.4f 止盈=%.4f",
		sig.Kind, sig.Symbol, sig.Timeframe, sig.EntryPrice, sig.StopLoss, sig.TakeProfit),
		zap.Float64s("ladder", sig.TakeProfits[:]),
		zap.Time("candle", sig.CandleTime))

	if !e.deps.Ledger.TryReserve(sig.Symbol, sig.Timeframe, sig) {
		metrics.Admissions.WithLabelValues(sig.Symbol, "busy").Inc()
		logger.Info("[Engine] symbol busy, signal dropped", zap.String("stream", s.key.String()))
		return
	}
	metrics.Admissions.WithLabelValues(sig.Symbol, "reserved").Inc()
	e.dispatch(sig)
}

// dispatch 占位成功后异步执行，Stop 会等待所有执行结束
func (e *Engine) dispatch(sig model.Signal) {
	metrics.ActivePositions.Set(float64(e.deps.Ledger.Active()))
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		final := e.deps.Executor.Execute(e.ctx, sig)
		metrics.ActivePositions.Set(float64(e.deps.Ledger.Active()))
		logger.Info("[Engine] execution finished",
			zap.String("symbol", sig.Symbol),
			zap.String("state", string(final.State)),
			zap.String("reason", final.Reason))
	}()
}

// Stop 取消订阅，排空队列，等待进行中的执行到达终态
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	e.live.Store(false)
	err := e.shutdown()
	logger.Info("[Engine] stopped")
	return err
}

func (e *Engine) shutdown() error {
	var errs error
	for _, s := range e.streams {
		if s.sub != nil {
			errs = multierr.Append(errs, s.sub.Unsubscribe())
			s.sub = nil
		}
	}

	e.sendMu.Lock()
	e.closed = true
	for _, s := range e.streams {
		if s.ch != nil {
			close(s.ch)
			s.ch = nil
		}
	}
	e.sendMu.Unlock()

	e.workers.Wait()
	e.inflight.Wait()
	return errs
}

// StreamStatus 单个行情流的状态
type StreamStatus struct {
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Candles    int       `json:"candles"`
	LastClose  float64   `json:"last_close"`
	LastCandle time.Time `json:"last_candle"`
	Updates    int64     `json:"updates"`
	Signals    int64     `json:"signals"`
	Queued     int       `json:"queued"`
}

type Status struct {
	Running    bool               `json:"running"`
	Streams    []StreamStatus     `json:"streams"`
	Positions  []model.Position   `json:"positions"`
	Outcomes   []model.Position   `json:"outcomes"`
	LastTrades map[string]float64 `json:"last_trades"`
}

func (e *Engine) Status() Status {
	st := Status{
		Running:   e.live.Load(),
		Positions: e.deps.Ledger.Snapshot(),
		Outcomes:  e.deps.Ledger.Outcomes(),
	}
	if e.deps.Gate != nil {
		st.LastTrades = e.deps.Gate.LastTradePrices()
	}
	for _, s := range e.streams {
		ss := StreamStatus{
			Symbol:    s.key.Symbol,
			Timeframe: string(s.key.Timeframe),
			Candles:   e.deps.Store.Len(s.key.Symbol, s.key.Timeframe),
			Updates:   s.updates.Load(),
			Signals:   s.signals.Load(),
		}
		if tail := e.deps.Store.Tail(s.key.Symbol, s.key.Timeframe, 1); len(tail) == 1 {
			ss.LastClose = tail[0].Close
			ss.LastCandle = tail[0].Time()
		}
		e.sendMu.RLock()
		if s.ch != nil {
			ss.Queued = len(s.ch)
		}
		e.sendMu.RUnlock()
		st.Streams = append(st.Streams, ss)
	}
	return st
}
