package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ggshot/internal/exchange"
	model2 "ggshot/internal/model"
	"ggshot/pkg/logger"
	"ggshot/pkg/utils"

	json "github.com/goccy/go-json"
	goexv2 "github.com/nntaoli-project/goex/v2"
	"github.com/nntaoli-project/goex/v2/model"
	"github.com/nntaoli-project/goex/v2/okx/common"
	"github.com/nntaoli-project/goex/v2/okx/futures"
	"github.com/nntaoli-project/goex/v2/options"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

type Options struct {
	ApiKey     string
	SecretKey  string
	Passphrase string
	// 模拟盘，请求头带 x-simulated-trading
	Simulated bool
	Leverage  int
	// 保证金模式 cross / isolated
	MarginMode string
	// 持仓查询的币种
	Symbols []string
	Timeout time.Duration
}

// Gateway OKX 永续合约，REST 走 goex，K线走 websocket
type Gateway struct {
	pub    *futures.Swap
	prv    goexv2.IPrvRest
	public *PublicClient
	stream *CandleStream
	opts   Options

	mu          sync.Mutex
	infoLoaded  bool
	pairs       map[string]model.CurrencyPair
	leverageSet map[string]bool
}

var _ exchange.Gateway = (*Gateway)(nil)

func New(opts Options) *Gateway {
	if opts.Simulated {
		goexv2.DefaultHttpCli.SetHeaders("x-simulated-trading", "1")
	}
	if opts.Leverage <= 0 {
		opts.Leverage = 10
	}
	if opts.MarginMode == "" {
		opts.MarginMode = "cross"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	pub := goexv2.OKx.Swap
	apiOpts := []options.ApiOption{
		options.WithApiKey(opts.ApiKey),
		options.WithApiSecretKey(opts.SecretKey),
		options.WithPassphrase(opts.Passphrase),
	}
	wsURL := BusinessWsURL
	if opts.Simulated {
		wsURL = BusinessWsURLDemo
	}
	return &Gateway{
		pub:         pub,
		prv:         pub.NewPrvApi(apiOpts...),
		public:      NewPublicClient(""),
		stream:      NewCandleStream(wsURL),
		opts:        opts,
		pairs:       make(map[string]model.CurrencyPair),
		leverageSet: make(map[string]bool),
	}
}

type result[T any] struct {
	v   T
	err error
}

// call goex 的方法没有 context，用协程 + 超时控制
func call[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, exchange.Transient(op, ctx.Err())
	case r := <-ch:
		return r.v, r.err
	}
}

// pair BTCUSDT -> goex CurrencyPair，首次使用时加载交易对信息
func (g *Gateway) pair(ctx context.Context, symbol string) (model.CurrencyPair, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pairs[symbol]; ok {
		return p, nil
	}
	if !g.infoLoaded {
		_, err := call(ctx, g.opts.Timeout, "exchange_info", func() (map[string]model.CurrencyPair, error) {
			info, _, err := g.pub.GetExchangeInfo()
			return info, err
		})
		if err != nil {
			return model.CurrencyPair{}, exchange.Transient("exchange_info", err)
		}
		g.infoLoaded = true
	}

	parts := strings.Split(utils.FormatSymbol(symbol), "/")
	if len(parts) != 2 {
		return model.CurrencyPair{}, exchange.Rejected("exchange_info", "symbol", "unsupported symbol "+symbol)
	}
	p, err := g.pub.NewCurrencyPair(parts[0], parts[1])
	if err != nil {
		return model.CurrencyPair{}, exchange.Rejected("exchange_info", "symbol", err.Error())
	}
	g.pairs[symbol] = p
	return p, nil
}

func (g *Gateway) futuresPrv() (*futures.PrvApi, error) {
	prv, ok := g.prv.(*futures.PrvApi)
	if !ok {
		return nil, errors.New("Prv() 不是合约接口")
	}
	return prv, nil
}

var periods = map[model2.Timeframe]model.KlinePeriod{
	"15m": model.Kline_15min,
	"30m": model.Kline_30min,
	"1H":  model.Kline_1h,
	"4H":  model.Kline_4h,
}

func (g *Gateway) GetHistoricalCandles(ctx context.Context, symbol string, timeframe model2.Timeframe, limit int) ([]model2.Candle, error) {
	period, ok := periods[timeframe]
	if !ok {
		return nil, exchange.Rejected(exchange.OpCandles, "timeframe", "unsupported timeframe "+string(timeframe))
	}
	pair, err := g.pair(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var opts []model.OptionParameter
	if limit > 0 {
		opts = append(opts, model.OptionParameter{Key: "limit", Value: strconv.Itoa(limit)})
	}
	type klineResp struct {
		klines []model.Kline
		body   []byte
	}
	resp, err := call(ctx, g.opts.Timeout, exchange.OpCandles, func() (klineResp, error) {
		k, body, err := g.pub.GetKline(pair, period, opts...)
		return klineResp{k, body}, err
	})
	if err != nil {
		return nil, exchange.Transient(exchange.OpCandles, err)
	}

	// goex 的 Kline 没有成交额，从响应体里补
	turnover := klineTurnover(resp.body)
	out := make([]model2.Candle, 0, len(resp.klines))
	for _, k := range resp.klines {
		out = append(out, model2.Candle{
			Timestamp: k.Timestamp,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Vol,
			Turnover:  turnover[k.Timestamp],
		})
	}
	return out, nil
}

// klineTurnover 解析 /market/candles 响应，按时间戳取 volCcyQuote
func klineTurnover(body []byte) map[int64]float64 {
	var resp struct {
		Data [][]interface{} `json:"data"`
	}
	if len(body) == 0 || json.Unmarshal(body, &resp) != nil {
		return nil
	}
	out := make(map[int64]float64, len(resp.Data))
	for _, row := range resp.Data {
		c, _, err := parseCandleRow(row)
		if err != nil {
			continue
		}
		out[c.Timestamp] = c.Turnover
	}
	return out
}

func (g *Gateway) SubscribeCandles(ctx context.Context, symbol string, timeframe model2.Timeframe, onUpdate func(model2.CandleUpdate)) (exchange.Subscription, error) {
	if _, ok := periods[timeframe]; !ok {
		return nil, exchange.Rejected(exchange.OpCandles, "timeframe", "unsupported timeframe "+string(timeframe))
	}
	return g.stream.Subscribe(ctx, symbol, timeframe, onUpdate)
}

func (g *Gateway) GetServerTime(ctx context.Context) (int64, error) {
	return g.public.GetServerTime(ctx)
}

func (g *Gateway) GetWalletBalance(ctx context.Context, asset string) (model2.Balance, error) {
	accounts, err := call(ctx, g.opts.Timeout, exchange.OpBalance, func() (map[string]model.Account, error) {
		acc, _, err := g.prv.GetAccount(asset)
		return acc, err
	})
	if err != nil {
		return model2.Balance{}, exchange.Transient(exchange.OpBalance, err)
	}
	acc, ok := accounts[asset]
	if !ok {
		return model2.Balance{}, exchange.Rejected(exchange.OpBalance, "asset", "account info not found for coin "+asset)
	}
	return model2.Balance{Asset: asset, Total: acc.Balance, Available: acc.AvailableBalance}, nil
}

// GetOpenPositions 逐个查询配置的币种
func (g *Gateway) GetOpenPositions(ctx context.Context) ([]model2.PositionInfo, error) {
	prv, err := g.futuresPrv()
	if err != nil {
		return nil, exchange.Rejected(exchange.OpPositions, "api", err.Error())
	}

	var out []model2.PositionInfo
	for _, symbol := range g.opts.Symbols {
		pair, err := g.pair(ctx, symbol)
		if err != nil {
			return nil, err
		}
		body, err := call(ctx, g.opts.Timeout, exchange.OpPositions, func() ([]byte, error) {
			_, data, err := prv.GetPositions(pair)
			return data, err
		})
		if err != nil {
			return nil, exchange.Transient(exchange.OpPositions, err)
		}
		items, err := parsePositions(body, symbol, pair.ContractVal)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (g *Gateway) ensureLeverage(ctx context.Context, symbol string, pair model.CurrencyPair, posSide string) error {
	key := symbol + "#" + posSide
	g.mu.Lock()
	done := g.leverageSet[key]
	g.mu.Unlock()
	if done {
		return nil
	}

	prv, err := g.futuresPrv()
	if err != nil {
		return err
	}
	opts := []model.OptionParameter{{Key: "mgnMode", Value: g.opts.MarginMode}}
	if g.opts.MarginMode == "isolated" && posSide != "" {
		opts = append(opts, model.OptionParameter{Key: "posSide", Value: posSide})
	}
	resp, err := call(ctx, g.opts.Timeout, "set_leverage", func() ([]byte, error) {
		return prv.SetLeverage(pair.Symbol, strconv.Itoa(g.opts.Leverage), opts...)
	})
	if err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}
	logger.Debug("[Okx] set leverage", zap.String("symbol", symbol), zap.ByteString("resp", resp))

	g.mu.Lock()
	g.leverageSet[key] = true
	g.mu.Unlock()
	return nil
}

func (g *Gateway) PlaceMarketOrder(ctx context.Context, order model2.MarketOrder) model2.OrderResult {
	const op = exchange.OpEntry
	pair, err := g.pair(ctx, order.Symbol)
	if err != nil {
		return model2.OrderResult{Err: err}
	}
	posSide := posSideOf(order.PositionIndex)
	if err := g.ensureLeverage(ctx, order.Symbol, pair, posSide); err != nil {
		logger.Warn("[Okx] leverage not set, using account default", zap.String("symbol", order.Symbol), zap.Error(err))
	}

	params := url.Values{}
	params.Set("instId", pair.Symbol)
	params.Set("tdMode", g.opts.MarginMode)
	params.Set("side", string(order.Side))
	params.Set("ordType", "market")
	params.Set("sz", utils.FormatFloat(order.Quantity))
	if posSide != "" {
		params.Set("posSide", posSide)
	}
	if order.ClientID != "" {
		params.Set("clOrdId", order.ClientID)
	}

	id, err := g.post(ctx, op, "/api/v5/trade/order", params, "ordId")
	if err != nil {
		return model2.OrderResult{Err: err}
	}
	return model2.OrderResult{Accepted: true, OrderID: id, AvgPrice: order.RefPrice}
}

// SetProtectiveOrders 每条腿一个条件单，按标记价格触发，市价平仓
func (g *Gateway) SetProtectiveOrders(ctx context.Context, req model2.ProtectiveRequest) []model2.OrderResult {
	legs := req.Legs()
	results := make([]model2.OrderResult, len(legs))

	pair, pairErr := g.pair(ctx, req.Symbol)
	posSide := posSideOf(req.PositionIndex)
	closeSide := model2.Sell
	if req.Side == model2.Sell {
		closeSide = model2.Buy
	}

	for i := range legs {
		leg := legs[i]
		results[i].Leg = &leg
		op := exchange.OpTakeProfit
		if leg.Kind == model2.LegStopLoss {
			op = exchange.OpStopLoss
		}
		if pairErr != nil {
			results[i].Err = pairErr
			continue
		}

		params := algoParams(pair.Symbol, g.opts.MarginMode, closeSide, posSide, leg)
		id, err := g.post(ctx, op, "/api/v5/trade/order-algo", params, "algoId")
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Accepted = true
		results[i].OrderID = id
	}
	return results
}

func algoParams(instID, tdMode string, closeSide model2.OrderSide, posSide string, leg model2.ProtectiveLeg) url.Values {
	px := utils.FormatFloat(leg.Price)
	trigger := string(leg.TriggerBy)
	if trigger == "" {
		trigger = string(model2.TriggerByMark)
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("tdMode", tdMode)
	params.Set("side", string(closeSide))
	params.Set("ordType", "conditional")
	params.Set("sz", utils.FormatFloat(leg.Quantity))
	if posSide != "" {
		params.Set("posSide", posSide)
	} else {
		params.Set("reduceOnly", "true")
	}
	if leg.Kind == model2.LegStopLoss {
		params.Set("slTriggerPx", px)
		params.Set("slOrdPx", "-1") // -1 市价
		params.Set("slTriggerPxType", trigger)
	} else {
		params.Set("tpTriggerPx", px)
		params.Set("tpOrdPx", "-1")
		params.Set("tpTriggerPxType", trigger)
	}
	return params
}

// SetHedgeMode 切换双向持仓(long_short_mode)或单向持仓(net_mode)
func (g *Gateway) SetHedgeMode(ctx context.Context, enabled bool) error {
	mode := "net_mode"
	if enabled {
		mode = "long_short_mode"
	}
	params := url.Values{}
	params.Set("posMode", mode)
	_, err := g.post(ctx, exchange.OpHedgeMode, "/api/v5/account/set-position-mode", params, "")
	return err
}

// Close 关闭K线连接
func (g *Gateway) Close() error {
	return g.stream.Close()
}

func (g *Gateway) post(ctx context.Context, op, path string, params url.Values, idField string) (string, error) {
	prv, err := g.futuresPrv()
	if err != nil {
		return "", exchange.Rejected(op, "api", err.Error())
	}
	reqURL := fmt.Sprintf("%s%s", prv.UriOpts.Endpoint, path)
	common.AdaptOrderClientIDOptionParameter(&params)

	body, err := call(ctx, g.opts.Timeout, op, func() ([]byte, error) {
		_, resp, err := prv.DoAuthRequest(http.MethodPost, reqURL, &params, nil)
		if err != nil && len(resp) > 0 {
			// 业务错误时 body 里有 sCode/sMsg
			return resp, nil
		}
		return resp, err
	})
	if err != nil {
		return "", exchange.Transient(op, err)
	}
	return parseAck(op, body, idField)
}

func posSideOf(idx model2.PositionIndex) string {
	switch idx {
	case model2.PositionIndexLong:
		return "long"
	case model2.PositionIndexShort:
		return "short"
	default:
		return ""
	}
}

type ackResponse struct {
	Code string                   `json:"code"`
	Msg  string                   `json:"msg"`
	Data []map[string]interface{} `json:"data"`
}

// parseAck 解析下单类接口的返回，外层 code 和每条 sCode 都要为 0
func parseAck(op string, body []byte, idField string) (string, error) {
	var resp ackResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", exchange.DataIntegrity(op, err)
	}
	if len(resp.Data) > 0 {
		row := resp.Data[0]
		if sCode := cast.ToString(row["sCode"]); sCode != "" && sCode != "0" {
			return "", exchange.Rejected(op, sCode, cast.ToString(row["sMsg"]))
		}
	}
	if resp.Code != "0" {
		return "", exchange.Rejected(op, resp.Code, resp.Msg)
	}
	if idField == "" {
		return "", nil
	}
	if len(resp.Data) == 0 {
		return "", exchange.DataIntegrity(op, errors.New("empty data"))
	}
	id := cast.ToString(resp.Data[0][idField])
	if id == "" {
		return "", exchange.DataIntegrity(op, fmt.Errorf("missing %s", idField))
	}
	return id, nil
}

type positionRow struct {
	InstID  string      `json:"instId"`
	PosSide string      `json:"posSide"`
	Pos     interface{} `json:"pos"`
	AvgPx   interface{} `json:"avgPx"`
	MarkPx  interface{} `json:"markPx"`
	Lever   interface{} `json:"lever"`
	UTime   interface{} `json:"uTime"`
}

// parsePositions 张数换算成币数量：pos * ctVal
func parsePositions(body []byte, symbol string, ctVal float64) ([]model2.PositionInfo, error) {
	var resp struct {
		Code string        `json:"code"`
		Msg  string        `json:"msg"`
		Data []positionRow `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, exchange.DataIntegrity(exchange.OpPositions, err)
	}
	if resp.Code != "" && resp.Code != "0" {
		return nil, exchange.Rejected(exchange.OpPositions, resp.Code, resp.Msg)
	}
	if ctVal <= 0 {
		ctVal = 1
	}

	var items []model2.PositionInfo
	for _, r := range resp.Data {
		pos := cast.ToFloat64(r.Pos)
		if pos == 0 {
			// 没有张数的仓位忽略
			continue
		}
		item := model2.PositionInfo{
			Symbol:     symbol,
			EntryPrice: cast.ToFloat64(r.AvgPx),
			MarkPrice:  cast.ToFloat64(r.MarkPx),
			Leverage:   cast.ToFloat64(r.Lever),
		}
		if ms := cast.ToInt64(r.UTime); ms > 0 {
			item.UpdatedAt = time.UnixMilli(ms)
		}
		switch r.PosSide {
		case "long":
			item.Side, item.PositionIndex = model2.Buy, model2.PositionIndexLong
		case "short":
			item.Side, item.PositionIndex = model2.Sell, model2.PositionIndexShort
		default:
			// net 模式正数为多，负数为空
			item.Side = model2.Buy
			if pos < 0 {
				item.Side = model2.Sell
			}
		}
		if pos < 0 {
			pos = -pos
		}
		item.Size = pos * ctVal
		items = append(items, item)
	}
	return items, nil
}
