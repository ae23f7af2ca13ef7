package exchange

import (
	"context"

	"ggshot/internal/model"
)

// 交易所网关，按用途拆成小接口，调用方只依赖自己需要的部分

type MarketData interface {
	// GetHistoricalCandles 最近 limit 根K线，按时间升序
	GetHistoricalCandles(ctx context.Context, symbol string, timeframe model.Timeframe, limit int) ([]model.Candle, error)
	// SubscribeCandles 订阅K线推送，回调在网关自己的协程里执行，不能阻塞
	SubscribeCandles(ctx context.Context, symbol string, timeframe model.Timeframe, onUpdate func(model.CandleUpdate)) (Subscription, error)
}

type AccountReader interface {
	GetWalletBalance(ctx context.Context, asset string) (model.Balance, error)
	GetOpenPositions(ctx context.Context) ([]model.PositionInfo, error)
}

type Trader interface {
	PlaceMarketOrder(ctx context.Context, order model.MarketOrder) model.OrderResult
	// SetProtectiveOrders 每条腿一个结果，顺序与 req.Legs() 相同
	SetProtectiveOrders(ctx context.Context, req model.ProtectiveRequest) []model.OrderResult
	SetHedgeMode(ctx context.Context, enabled bool) error
}

type ServerClock interface {
	// GetServerTime 交易所时间，毫秒
	GetServerTime(ctx context.Context) (int64, error)
}

type Gateway interface {
	MarketData
	AccountReader
	Trader
	ServerClock
}

// Subscription 一个K线订阅，Unsubscribe 之后不会再有回调
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc 让普通函数实现 Subscription
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
