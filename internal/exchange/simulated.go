package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ggshot/internal/model"
	"github.com/google/uuid"
)

// 可注入失败的操作
const (
	OpEntry      = "place_order"
	OpStopLoss   = "stop_loss"
	OpTakeProfit = "take_profit"
	OpBalance    = "balance"
	OpPositions  = "positions"
	OpCandles    = "candles"
	OpServerTime = "server_time"
	OpHedgeMode  = "hedge_mode"
)

// SimOrder 模拟盘记录的订单
type SimOrder struct {
	ID            string
	Symbol        string
	Op            string
	Side          model.OrderSide
	PositionIndex model.PositionIndex
	Quantity      float64
	Price         float64
	TriggerBy     model.TriggerBy
	CreatedAt     time.Time
}

type failure struct {
	remaining int // <0 一直失败
	err       error
}

type subscriber struct {
	id int
	fn func(model.CandleUpdate)
}

// SimulatedGateway 内存中的模拟交易所：模拟盘运行和测试都用它
// 下单立即成交，价格取信号价
type SimulatedGateway struct {
	mu        sync.Mutex
	orders    []SimOrder
	attempts  map[string]int
	failures  map[string]*failure
	prices    map[string]float64
	balances  map[string]model.Balance
	positions map[string]*model.PositionInfo // symbol+index
	candles   map[model.SeriesKey][]model.Candle
	subs      map[model.SeriesKey][]subscriber
	nextSub   int
	hedge     bool
	leverage  float64
	// 服务器时间相对本地的偏移
	clockOffset time.Duration
	clockDelay  time.Duration
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		attempts:  make(map[string]int),
		failures:  make(map[string]*failure),
		prices:    make(map[string]float64),
		balances:  make(map[string]model.Balance),
		positions: make(map[string]*model.PositionInfo),
		candles:   make(map[model.SeriesKey][]model.Candle),
		subs:      make(map[model.SeriesKey][]subscriber),
		leverage:  10,
	}
}

// SetInitialPrice 设置标记价格
func (s *SimulatedGateway) SetInitialPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	for _, p := range s.positions {
		if p.Symbol == symbol {
			p.MarkPrice = price
		}
	}
}

func (s *SimulatedGateway) SetBalance(asset string, total, available float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = model.Balance{Asset: asset, Total: total, Available: available}
}

func (s *SimulatedGateway) SetLeverage(leverage float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = leverage
}

// AddPosition 直接放入一个已有持仓
func (s *SimulatedGateway) AddPosition(p model.PositionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.positions[positionKey(p.Symbol, p.PositionIndex)] = &cp
}

func (s *SimulatedGateway) SetCandles(symbol string, timeframe model.Timeframe, candles []model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	s.candles[model.SeriesKey{Symbol: symbol, Timeframe: timeframe}] = cp
}

// SetClock 模拟服务器时间偏移和单次请求耗时
func (s *SimulatedGateway) SetClock(offset, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockOffset = offset
	s.clockDelay = delay
}

// Fail 让 op 接下来 times 次失败，times<0 表示一直失败
func (s *SimulatedGateway) Fail(op string, times int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = Rejected(op, "sim", "injected failure")
	}
	s.failures[op] = &failure{remaining: times, err: err}
}

// 调用方已加锁
func (s *SimulatedGateway) check(op string) error {
	s.attempts[op]++
	f, ok := s.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// Attempts op 被调用的次数，包括失败的
func (s *SimulatedGateway) Attempts(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[op]
}

// Orders 已接受的订单
func (s *SimulatedGateway) Orders() []SimOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimOrder, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *SimulatedGateway) HedgeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hedge
}

// Feed 推送一根K线给订阅者，在调用方协程里同步回调
func (s *SimulatedGateway) Feed(update model.CandleUpdate) {
	key := model.SeriesKey{Symbol: update.Symbol, Timeframe: update.Timeframe}
	s.mu.Lock()
	subs := append([]subscriber(nil), s.subs[key]...)
	s.prices[update.Symbol] = update.Candle.Close
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(update)
	}
}

func (s *SimulatedGateway) Subscribers(symbol string, timeframe model.Timeframe) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[model.SeriesKey{Symbol: symbol, Timeframe: timeframe}])
}

func (s *SimulatedGateway) GetHistoricalCandles(ctx context.Context, symbol string, timeframe model.Timeframe, limit int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpCandles); err != nil {
		return nil, err
	}
	cs := s.candles[model.SeriesKey{Symbol: symbol, Timeframe: timeframe}]
	if limit > 0 && len(cs) > limit {
		cs = cs[len(cs)-limit:]
	}
	out := make([]model.Candle, len(cs))
	copy(out, cs)
	return out, nil
}

func (s *SimulatedGateway) SubscribeCandles(ctx context.Context, symbol string, timeframe model.Timeframe, onUpdate func(model.CandleUpdate)) (Subscription, error) {
	if onUpdate == nil {
		return nil, errors.New("nil candle callback")
	}
	key := model.SeriesKey{Symbol: symbol, Timeframe: timeframe}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[key] = append(s.subs[key], subscriber{id: id, fn: onUpdate})
	s.mu.Unlock()

	return SubscriptionFunc(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[key]
		for i, sub := range subs {
			if sub.id == id {
				s.subs[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

func (s *SimulatedGateway) GetWalletBalance(ctx context.Context, asset string) (model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpBalance); err != nil {
		return model.Balance{}, err
	}
	b, ok := s.balances[asset]
	if !ok {
		return model.Balance{}, Rejected(OpBalance, "sim", "account info not found for coin "+asset)
	}
	return b, nil
}

func (s *SimulatedGateway) GetOpenPositions(ctx context.Context) ([]model.PositionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPositions); err != nil {
		return nil, err
	}
	out := make([]model.PositionInfo, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Size > 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *SimulatedGateway) PlaceMarketOrder(ctx context.Context, order model.MarketOrder) model.OrderResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpEntry); err != nil {
		return model.OrderResult{Err: err}
	}
	if order.Quantity <= 0 {
		return model.OrderResult{Err: Rejected(OpEntry, "sim", fmt.Sprintf("invalid quantity %v", order.Quantity))}
	}

	price := order.RefPrice
	if price <= 0 {
		price = s.prices[order.Symbol]
	}
	if price <= 0 {
		return model.OrderResult{Err: Rejected(OpEntry, "sim", "no price for "+order.Symbol)}
	}

	// 创建订单id
	id := uuid.NewString()
	s.orders = append(s.orders, SimOrder{
		ID:            id,
		Symbol:        order.Symbol,
		Op:            OpEntry,
		Side:          order.Side,
		PositionIndex: order.PositionIndex,
		Quantity:      order.Quantity,
		Price:         price,
		CreatedAt:     time.Now(),
	})

	key := positionKey(order.Symbol, order.PositionIndex)
	p, ok := s.positions[key]
	if !ok {
		p = &model.PositionInfo{Symbol: order.Symbol, Side: order.Side, PositionIndex: order.PositionIndex, Leverage: s.leverage}
		s.positions[key] = p
	}
	// 加仓按数量加权均价
	p.EntryPrice = (p.EntryPrice*p.Size + price*order.Quantity) / (p.Size + order.Quantity)
	p.Size += order.Quantity
	p.MarkPrice = price
	p.UpdatedAt = time.Now()
	s.prices[order.Symbol] = price

	return model.OrderResult{Accepted: true, OrderID: id, AvgPrice: price}
}

func (s *SimulatedGateway) SetProtectiveOrders(ctx context.Context, req model.ProtectiveRequest) []model.OrderResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	legs := req.Legs()
	results := make([]model.OrderResult, len(legs))
	for i := range legs {
		leg := legs[i]
		op := OpTakeProfit
		if leg.Kind == model.LegStopLoss {
			op = OpStopLoss
		}
		results[i].Leg = &leg
		if err := s.check(op); err != nil {
			results[i].Err = err
			continue
		}
		if leg.Quantity <= 0 || leg.Price <= 0 {
			results[i].Err = Rejected(op, "sim", "invalid leg")
			continue
		}
		id := uuid.NewString()
		s.orders = append(s.orders, SimOrder{
			ID:            id,
			Symbol:        req.Symbol,
			Op:            op,
			Side:          opposite(req.Side),
			PositionIndex: req.PositionIndex,
			Quantity:      leg.Quantity,
			Price:         leg.Price,
			TriggerBy:     leg.TriggerBy,
			CreatedAt:     time.Now(),
		})
		results[i].Accepted = true
		results[i].OrderID = id
	}
	return results
}

func (s *SimulatedGateway) SetHedgeMode(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpHedgeMode); err != nil {
		return err
	}
	s.hedge = enabled
	return nil
}

func (s *SimulatedGateway) GetServerTime(ctx context.Context) (int64, error) {
	s.mu.Lock()
	offset, delay := s.clockOffset, s.clockDelay
	err := s.check(OpServerTime)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return 0, Transient(OpServerTime, ctx.Err())
		case <-time.After(delay):
		}
	}
	return time.Now().Add(offset - delay/2).UnixMilli(), nil
}

func positionKey(symbol string, idx model.PositionIndex) string {
	return fmt.Sprintf("%s#%d", symbol, idx)
}

func opposite(side model.OrderSide) model.OrderSide {
	if side == model.Buy {
		return model.Sell
	}
	return model.Buy
}

var _ Gateway = (*SimulatedGateway)(nil)
