package okx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ggshot/internal/exchange"
	model2 "ggshot/internal/model"
	"ggshot/pkg/logger"
	"ggshot/pkg/utils"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	BusinessWsURL = "wss://ws.okx.com:8443/ws/v5/business"
	// 模拟盘
	BusinessWsURLDemo = "wss://wspap.okx.com:8443/ws/v5/business"

	candleChannelPrefix = "candle"
)

// CandleStream OKX K线推送，首次订阅时才建立连接，断线自动重连并恢复订阅
type CandleStream struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[model2.SeriesKey]map[int]func(model2.CandleUpdate)
	nextID  int
	running bool
	closed  bool
	closeCh chan struct{}

	// gorilla 只允许一个并发写
	writeMu     sync.Mutex
	lastRequest time.Time

	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

func NewCandleStream(url string) *CandleStream {
	if url == "" {
		url = BusinessWsURL
	}
	return &CandleStream{
		url:            url,
		dialer:         websocket.DefaultDialer,
		subs:           make(map[model2.SeriesKey]map[int]func(model2.CandleUpdate)),
		closeCh:        make(chan struct{}),
		ReconnectDelay: 2 * time.Second,
		PingInterval:   15 * time.Second,
	}
}

// Subscribe 注册回调，同一个K线频道只向交易所订阅一次
func (s *CandleStream) Subscribe(ctx context.Context, symbol string, timeframe model2.Timeframe, onUpdate func(model2.CandleUpdate)) (exchange.Subscription, error) {
	if onUpdate == nil {
		return nil, errors.New("nil candle callback")
	}
	key := model2.SeriesKey{Symbol: symbol, Timeframe: timeframe}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("candle stream closed")
	}
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(model2.CandleUpdate))
	}
	first := len(s.subs[key]) == 0
	s.nextID++
	id := s.nextID
	s.subs[key][id] = onUpdate
	conn := s.conn
	if !s.running {
		s.running = true
		go s.run()
	}
	s.mu.Unlock()

	// 未连接时由 run() 在连接成功后统一订阅
	if first && conn != nil {
		if err := s.write(conn, "subscribe", key); err != nil {
			logger.Warn("[OkxStream] subscribe failed, will retry on reconnect",
				zap.String("stream", key.String()), zap.Error(err))
		}
	}
	logger.Info("[OkxStream] subscribed", zap.String("stream", key.String()))

	return exchange.SubscriptionFunc(func() error {
		return s.unsubscribe(key, id)
	}), nil
}

func (s *CandleStream) unsubscribe(key model2.SeriesKey, id int) error {
	s.mu.Lock()
	cbs, ok := s.subs[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(cbs, id)
	last := len(cbs) == 0
	if last {
		delete(s.subs, key)
	}
	conn := s.conn
	s.mu.Unlock()

	if last && conn != nil {
		return s.write(conn, "unsubscribe", key)
	}
	return nil
}

// Close 停止重连并关闭连接
func (s *CandleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var errs error
	if conn != nil {
		s.writeMu.Lock()
		errs = multierr.Append(errs, conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
		s.writeMu.Unlock()
		errs = multierr.Append(errs, conn.Close())
	}
	return errs
}

func (s *CandleStream) run() {
	logger.Info("[OkxStream] connection manager started", zap.String("url", s.url))
	defer logger.Info("[OkxStream] connection manager stopped")

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		conn, _, err := s.dialer.Dial(s.url, nil)
		if err != nil {
			logger.Warn("[OkxStream] connect failed, retrying", zap.Duration("delay", s.ReconnectDelay), zap.Error(err))
			if !s.sleep(s.ReconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		keys := make([]model2.SeriesKey, 0, len(s.subs))
		for k := range s.subs {
			keys = append(keys, k)
		}
		s.mu.Unlock()

		// 恢复所有订阅
		if len(keys) > 0 {
			if err := s.write(conn, "subscribe", keys...); err != nil {
				logger.Warn("[OkxStream] resubscribe failed", zap.Error(err))
			}
		}

		done := make(chan struct{})
		go s.pingLoop(conn, done)
		s.listen(conn)
		close(done)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()

		logger.Warn("[OkxStream] connection lost, reconnecting")
		if !s.sleep(s.ReconnectDelay) {
			return
		}
	}
}

func (s *CandleStream) sleep(d time.Duration) bool {
	select {
	case <-s.closeCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *CandleStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			s.writeMu.Unlock()
			if err != nil {
				logger.Warn("[OkxStream] ping failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (s *CandleStream) listen(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("[OkxStream] read failed", zap.Error(err))
			return
		}
		s.handleMessage(msg)
	}
}

func (s *CandleStream) handleMessage(msg []byte) {
	updates, err := parseCandleMessage(msg)
	if err != nil {
		var ge *exchange.Error
		if errors.As(err, &ge) && ge.Kind == exchange.KindRejected {
			logger.Error("[OkxStream] server error event", zap.Error(err))
			return
		}
		logger.Warn("[OkxStream] bad candle message dropped", zap.Error(err), zap.ByteString("msg", msg))
		return
	}

	for _, u := range updates {
		key := model2.SeriesKey{Symbol: u.Symbol, Timeframe: u.Timeframe}
		s.mu.Lock()
		cbs := make([]func(model2.CandleUpdate), 0, len(s.subs[key]))
		for _, fn := range s.subs[key] {
			cbs = append(cbs, fn)
		}
		s.mu.Unlock()
		for _, fn := range cbs {
			fn(u)
		}
	}
}

// write 发送订阅/取消订阅，两次请求至少间隔50ms
func (s *CandleStream) write(conn *websocket.Conn, op string, keys ...model2.SeriesKey) error {
	args := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, map[string]string{
			"channel": candleChannelPrefix + string(k.Timeframe),
			"instId":  utils.InstID(k.Symbol),
		})
	}
	msg, err := json.Marshal(map[string]interface{}{"op": op, "args": args})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if wait := 50*time.Millisecond - time.Since(s.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	s.lastRequest = time.Now()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsMessage struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   wsArg           `json:"arg"`
	Data  [][]interface{} `json:"data"`
}

// parseCandleMessage 解析推送，非K线消息（pong、订阅回执）返回空
// 行格式: [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm]
func parseCandleMessage(msg []byte) ([]model2.CandleUpdate, error) {
	const op = "candle_stream"
	if string(msg) == "pong" {
		return nil, nil
	}

	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, exchange.DataIntegrity(op, err)
	}
	if m.Event != "" {
		if m.Event == "error" {
			return nil, exchange.Rejected(op, m.Code, m.Msg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(m.Arg.Channel, candleChannelPrefix) || len(m.Data) == 0 {
		return nil, nil
	}

	tf := model2.Timeframe(strings.TrimPrefix(m.Arg.Channel, candleChannelPrefix))
	symbol := utils.SymbolFromInstID(m.Arg.InstID)

	out := make([]model2.CandleUpdate, 0, len(m.Data))
	for _, row := range m.Data {
		c, confirmed, err := parseCandleRow(row)
		if err != nil {
			return nil, exchange.DataIntegrity(op, fmt.Errorf("%s %s: %w", m.Arg.InstID, tf, err))
		}
		out = append(out, model2.CandleUpdate{Symbol: symbol, Timeframe: tf, Candle: c, Confirmed: confirmed})
	}
	return out, nil
}

func parseCandleRow(row []interface{}) (model2.Candle, bool, error) {
	if len(row) < 6 {
		return model2.Candle{}, false, fmt.Errorf("candle row has %d fields", len(row))
	}
	var c model2.Candle
	var err error
	if c.Timestamp, err = cast.ToInt64E(row[0]); err != nil {
		return c, false, fmt.Errorf("ts: %w", err)
	}
	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, f := range fields {
		if *f, err = cast.ToFloat64E(row[i+1]); err != nil {
			return c, false, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	if len(row) > 7 {
		c.Turnover, _ = cast.ToFloat64E(row[7])
	}
	if c.Timestamp <= 0 || c.High < c.Low {
		return c, false, fmt.Errorf("invalid candle ts=%d high=%v low=%v", c.Timestamp, c.High, c.Low)
	}
	confirmed := len(row) > 8 && cast.ToString(row[8]) == "1"
	return c, confirmed, nil
}
