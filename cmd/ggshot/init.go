package main

import (
	"context"
	"fmt"
	"time"

	"ggshot/conf"
	"ggshot/internal/account"
	"ggshot/internal/exchange"
	"ggshot/internal/exchange/okx"
	"ggshot/internal/execution"
	"ggshot/internal/handler/status"
	"ggshot/internal/kline"
	"ggshot/internal/position"
	"ggshot/internal/risk"
	"ggshot/internal/router"
	"ggshot/internal/strategy"
	"ggshot/internal/timesync"
	"ggshot/pkg/logger"

	"go.uber.org/zap"
)

// app 启动时组装好的所有组件
type app struct {
	closers []func() error
	clock   *timesync.Clock
	engine  *strategy.Engine
	monitor *account.Monitor
	router  *router.ApiRouter
}

// newGateway 根据配置选择交易所
// okx: 实盘/okx模拟盘；okx + paper: okx行情 + 本地撮合；simulated: 纯本地
func newGateway(c conf.Config) (exchange.Gateway, []func() error, error) {
	paperBroker := func() *exchange.SimulatedGateway {
		sim := exchange.NewSimulatedGateway()
		sim.SetBalance(c.Venue.QuoteAsset, c.PaperBalance, c.PaperBalance)
		sim.SetLeverage(float64(c.Venue.Leverage))
		return sim
	}

	switch c.Venue.Name {
	case "simulated":
		logger.Warn("[Bootstrap] simulated venue, candles must be fed manually")
		return paperBroker(), nil, nil
	case "okx":
		symbols := make([]string, 0, len(c.Strategy.Subscriptions))
		for _, sub := range c.Strategy.Subscriptions {
			symbols = append(symbols, sub.Symbol)
		}
		gw := okx.New(okx.Options{
			ApiKey:     c.Okx.ApiKey,
			SecretKey:  c.Okx.SecretKey,
			Passphrase: c.Okx.Password,
			Simulated:  c.Okx.Simulated,
			Leverage:   c.Venue.Leverage,
			Symbols:    symbols,
		})
		closers := []func() error{gw.Close}
		if c.Paper {
			logger.Info("[Bootstrap] paper trading on okx market data",
				zap.Float64("balance", c.PaperBalance))
			return exchange.NewComposite(gw, paperBroker()), closers, nil
		}
		return gw, closers, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown venue %q", conf.ErrConfig, c.Venue.Name)
}

func initApp(ctx context.Context, c conf.Config) (*app, error) {
	gw, closers, err := newGateway(c)
	if err != nil {
		return nil, err
	}

	// 先校准时间，持仓记录的时间戳用交易所时间
	clock := timesync.NewClock(0)
	syncCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := clock.Sync(syncCtx, gw); err != nil {
		logger.Warn("[Bootstrap] clock sync failed, using local time", zap.Error(err))
	}
	cancel()

	sizer, err := execution.NewSizer(c.Venue.Sizing, c.Strategy.RiskPct, c.Venue.LotStep, c.TestMode)
	if err != nil {
		return nil, err
	}
	prot, err := execution.NewProtector(c.Venue.Protection)
	if err != nil {
		return nil, err
	}

	ledger := position.NewLedger(clock.Now)
	gate := risk.NewGate(gw, c.Venue.QuoteAsset, c.Strategy.MaxMarginRatio, c.Strategy.MinPriceChange)
	exec := execution.NewExecutor(gw, gw, gate, ledger, sizer, prot, executorOptions(c))

	engine, err := strategy.NewEngine(c.Strategy, c.Venue.HedgeMode, strategy.Deps{
		Market:   gw,
		Trader:   gw,
		Store:    kline.NewStore(c.Strategy.MaxCandles),
		Ledger:   ledger,
		Gate:     gate,
		Executor: exec,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("[Bootstrap] components ready",
		zap.String("venue", c.Venue.Name),
		zap.Bool("paper", c.Paper),
		zap.Bool("test_mode", c.TestMode),
		zap.String("sizing", c.Venue.Sizing),
		zap.String("protection", c.Venue.Protection),
		zap.Int64("clock_offset_ms", clock.Offset()),
		zap.Time("server_time", clock.Now()),
		zap.Int("streams", countStreams(c.Strategy.Subscriptions)))

	return &app{
		closers: closers,
		clock:   clock,
		engine:  engine,
		monitor: account.NewMonitor(gw, c.Venue.QuoteAsset, c.Strategy.BalanceInterval),
		router:  router.NewApiRouter(status.NewStatusHandler(engine)),
	}, nil
}

func executorOptions(c conf.Config) execution.Options {
	return execution.Options{
		QuoteAsset:        c.Venue.QuoteAsset,
		HedgeMode:         c.Venue.HedgeMode,
		PricePrecision:    c.Venue.PricePrecision,
		ProtectiveRetries: c.Strategy.ProtectiveRetries,
		ProtectiveDelay:   c.Strategy.ProtectiveDelay,
		RetryDelay:        c.Strategy.RetryDelay,
	}
}

func countStreams(subs []conf.Subscription) int {
	n := 0
	for _, s := range subs {
		n += len(s.Timeframes)
	}
	return n
}
