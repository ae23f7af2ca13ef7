package exchange

import (
	"context"

	"ggshot/internal/model"
)

// Composite 行情来自一个网关，账户和下单走另一个
// 模拟盘：okx 公共行情 + 本地 SimulatedGateway
type Composite struct {
	market MarketData
	clock  ServerClock
	acct   AccountReader
	trader Trader
}

func NewComposite(market interface {
	MarketData
	ServerClock
}, broker interface {
	AccountReader
	Trader
}) *Composite {
	return &Composite{market: market, clock: market, acct: broker, trader: broker}
}

func (c *Composite) GetHistoricalCandles(ctx context.Context, symbol string, timeframe model.Timeframe, limit int) ([]model.Candle, error) {
	return c.market.GetHistoricalCandles(ctx, symbol, timeframe, limit)
}

func (c *Composite) SubscribeCandles(ctx context.Context, symbol string, timeframe model.Timeframe, onUpdate func(model.CandleUpdate)) (Subscription, error) {
	return c.market.SubscribeCandles(ctx, symbol, timeframe, onUpdate)
}

func (c *Composite) GetServerTime(ctx context.Context) (int64, error) {
	return c.clock.GetServerTime(ctx)
}

func (c *Composite) GetWalletBalance(ctx context.Context, asset string) (model.Balance, error) {
	return c.acct.GetWalletBalance(ctx, asset)
}

func (c *Composite) GetOpenPositions(ctx context.Context) ([]model.PositionInfo, error) {
	return c.acct.GetOpenPositions(ctx)
}

func (c *Composite) PlaceMarketOrder(ctx context.Context, order model.MarketOrder) model.OrderResult {
	return c.trader.PlaceMarketOrder(ctx, order)
}

func (c *Composite) SetProtectiveOrders(ctx context.Context, req model.ProtectiveRequest) []model.OrderResult {
	return c.trader.SetProtectiveOrders(ctx, req)
}

func (c *Composite) SetHedgeMode(ctx context.Context, enabled bool) error {
	return c.trader.SetHedgeMode(ctx, enabled)
}

var _ Gateway = (*Composite)(nil)
