package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ggshot/conf"
	"ggshot/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errShutdown = errors.New("shutdown signal")

func main() {
	configPath := flag.String("c", "conf/config.yaml", "config file")
	flag.Parse()

	// 加载配置文件
	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	c := conf.AppConfig

	logger.InitLogger(&c.Log, c.AppName)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := initApp(ctx, c)
	if err != nil {
		logger.Fatal("[Bootstrap] init failed", zap.Error(err))
	}

	if err := a.engine.Start(ctx); err != nil {
		logger.Fatal("[Bootstrap] engine start failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return NewServer(&c).Run(gctx, a.router)
	})
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		return waitSignal(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("[Bootstrap] exited with error", zap.Error(err))
	}

	// http 已经停了，等待在途的下单流程走完
	var errs error
	errs = multierr.Append(errs, a.engine.Stop())
	for _, closeFn := range a.closers {
		errs = multierr.Append(errs, closeFn())
	}
	if errs != nil {
		logger.Warn("[Bootstrap] shutdown finished with errors", zap.Error(errs))
	}
	logger.Info("[Bootstrap] bye")
}

// waitSignal 收到 SIGINT/SIGTERM 时返回 errShutdown，让 errgroup 取消其余任务
func waitSignal(ctx context.Context) error {
	sgn := make(chan os.Signal, 1)
	signal.Notify(sgn, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sgn)
	select {
	case s := <-sgn:
		logger.Info("[Bootstrap] received signal", zap.String("signal", s.String()))
		return errShutdown
	case <-ctx.Done():
		return nil
	}
}
