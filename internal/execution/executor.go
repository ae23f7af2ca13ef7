package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"ggshot/internal/exchange"
	"ggshot/internal/metrics"
	"ggshot/internal/model"
	"ggshot/internal/position"
	"ggshot/internal/risk"
	"ggshot/pkg/logger"
	"ggshot/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options 执行器参数
type Options struct {
	QuoteAsset        string
	HedgeMode         bool
	PricePrecision    int32
	ProtectiveRetries int
	ProtectiveDelay   time.Duration // 开仓成交后等待多久再挂止盈止损
	RetryDelay        time.Duration
}

// Executor 开仓 -> 止盈止损的状态机
// 调用方必须先通过 Ledger.TryReserve 占位，Execute 在任何终态都会释放
type Executor struct {
	trader exchange.Trader
	acct   exchange.AccountReader
	gate   *risk.Gate
	ledger *position.Ledger
	sizer  Sizer
	prot   Protector
	opts   Options
}

func NewExecutor(trader exchange.Trader, acct exchange.AccountReader, gate *risk.Gate, ledger *position.Ledger,
	sizer Sizer, prot Protector, opts Options) *Executor {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.ProtectiveRetries < 0 {
		opts.ProtectiveRetries = 0
	}
	return &Executor{
		trader: trader,
		acct:   acct,
		gate:   gate,
		ledger: ledger,
		sizer:  sizer,
		prot:   prot,
		opts:   opts,
	}
}

// Execute 对已占位的信号执行完整流程，返回最终记录
// 风控拒绝和查询失败返回的记录 State 仍为 Reserved，Reason 为原因
func (e *Executor) Execute(ctx context.Context, sig model.Signal) (final model.Position) {
	ctx = context.WithoutCancel(ctx)
	symbol := sig.Symbol

	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Executor] panic",
				zap.String("symbol", symbol),
				zap.Any("recover", r),
				zap.ByteString("stack", debug.Stack()))
			e.ledger.Update(symbol, func(p *model.Position) { p.Reason = fmt.Sprintf("panic: %v", r) })
		}
		if p, ok := e.ledger.Release(symbol); ok {
			final = p
			metrics.Outcomes.WithLabelValues(symbol, string(p.State)).Inc()
		}
	}()

	if _, ok := e.ledger.Get(symbol); !ok {
		logger.Warn("[Executor] no reservation, skip", zap.String("symbol", symbol))
		return model.Position{}
	}

	// 1. 风控
	if e.gate != nil {
		dec, err := e.gate.Check(ctx, symbol, sig.EntryPrice)
		if err != nil {
			logger.Warn("[RiskGate] check failed, skip this cycle", zap.String("symbol", symbol), zap.Error(err))
			e.skip(symbol, "risk check: "+err.Error())
			return
		}
		if !dec.Allowed {
			logger.Info("[RiskGate] rejected", zap.String("symbol", symbol), zap.String("reason", dec.Reason))
			metrics.RiskRejections.WithLabelValues(symbol).Inc()
			e.skip(symbol, dec.Reason)
			return
		}
	}

	// 2. 数量
	equity := 0.0
	if e.sizer.UsesEquity() {
		bal, err := e.acct.GetWalletBalance(ctx, e.opts.QuoteAsset)
		if err != nil {
			logger.Warn("[Executor] balance query failed", zap.String("symbol", symbol), zap.Error(err))
			e.skip(symbol, "balance: "+err.Error())
			return
		}
		equity = bal.Total
	}
	qty, err := e.sizer.Size(equity, sig.EntryPrice)
	if err != nil {
		logger.Warn("[Executor] sizing failed", zap.String("symbol", symbol), zap.Error(err))
		e.skip(symbol, "sizing: "+err.Error())
		return
	}

	plan := e.prot.Plan(sig, qty, e.sizer.LotStep())
	entry, plan := applyLevels(sig.Kind, sig.EntryPrice, plan, e.opts.PricePrecision)

	idx := model.PositionIndexOneWay
	if e.opts.HedgeMode {
		idx = sig.Kind.PositionIndex()
	}

	logger.Info(fmt.Sprintf("[Executor] %s %s 入场=%.4f 止损=%.4f 数量=%s 仓位=%d",
		sig.Kind, symbol, entry, plan.StopLoss.Price, utils.FormatFloat(qty), idx),
		zap.String("timeframe", string(sig.Timeframe)))

	e.ledger.Update(symbol, func(p *model.Position) {
		p.Quantity = qty
		p.PositionIndex = idx
		p.EntryPrice = entry
		p.StopLoss = plan.StopLoss.Price
		p.TakeProfits = make([]float64, 0, len(plan.TakeProfits))
		for _, tp := range plan.TakeProfits {
			p.TakeProfits = append(p.TakeProfits, tp.Price)
		}
	})

	// 3. 市价开仓
	if err := e.ledger.Transition(symbol, model.StateEntryPending); err != nil {
		logger.Error("[Executor] transition", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	res := e.trader.PlaceMarketOrder(ctx, model.MarketOrder{
		Symbol:        symbol,
		Side:          sig.Kind.Side(),
		Quantity:      qty,
		PositionIndex: idx,
		RefPrice:      entry,
		ClientID:      clientID(),
	})
	metrics.Orders.WithLabelValues(symbol, "entry", metrics.Result(res.Accepted)).Inc()
	if !res.Accepted {
		logger.Error("[Executor] entry rejected", zap.String("symbol", symbol), zap.Error(res.Err))
		e.ledger.Update(symbol, func(p *model.Position) { p.Reason = errString(res.Err) })
		_ = e.ledger.Transition(symbol, model.StateEntryFailed)
		return
	}

	_ = e.ledger.Transition(symbol, model.StateEntryFilled)
	if e.gate != nil {
		e.gate.RecordTrade(symbol, entry)
	}
	logger.Info("[Executor] entry filled", zap.String("symbol", symbol),
		zap.String("order_id", res.OrderID), zap.Float64("avg_price", res.AvgPrice))

	if e.opts.ProtectiveDelay > 0 {
		time.Sleep(e.opts.ProtectiveDelay)
	}

	// 4. 止盈止损
	_ = e.ledger.Transition(symbol, model.StateProtectivePending)
	ids, failed := e.protect(ctx, symbol, sig.Kind.Side(), idx, plan)
	e.ledger.Update(symbol, func(p *model.Position) { p.ProtectiveOrderIDs = ids })

	if len(failed) == 0 {
		_ = e.ledger.Transition(symbol, model.StateProtected)
		logger.Info("[Executor] protected", zap.String("symbol", symbol), zap.Strings("orders", ids))
		return
	}

	_ = e.ledger.Transition(symbol, model.StatePartiallyProtected)
	metrics.PartiallyProtected.WithLabelValues(symbol).Inc()
	e.ledger.Update(symbol, func(p *model.Position) {
		p.Reason = fmt.Sprintf("%d protective legs failed", len(failed))
	})
	logger.Error("[ALERT] position partially protected, manual action required",
		zap.String("symbol", symbol),
		zap.String("side", string(sig.Kind.Side())),
		zap.Float64("quantity", qty),
		zap.Float64("entry", entry),
		zap.Strings("failed_legs", failed),
		zap.Strings("orders", ids))
	return
}

// protect 提交所有腿，失败的腿有限次重试，返回成功的订单id和最终失败的腿
func (e *Executor) protect(ctx context.Context, symbol string, side model.OrderSide, idx model.PositionIndex, plan Plan) ([]string, []string) {
	sl := plan.StopLoss
	pending := model.ProtectiveRequest{
		Symbol:        symbol,
		Side:          side,
		PositionIndex: idx,
		StopLoss:      &sl,
		TakeProfits:   plan.TakeProfits,
	}

	var ids []string
	var lastErrs map[string]error
	_ = utils.Retry(ctx, 1+e.opts.ProtectiveRetries, e.opts.RetryDelay, false, func() error {
		results := e.trader.SetProtectiveOrders(ctx, pending)
		next := model.ProtectiveRequest{Symbol: symbol, Side: side, PositionIndex: idx}
		lastErrs = make(map[string]error)
		for _, r := range results {
			if r.Leg == nil {
				continue
			}
			leg := *r.Leg
			metrics.Orders.WithLabelValues(symbol, string(leg.Kind), metrics.Result(r.Accepted)).Inc()
			if r.Accepted {
				ids = append(ids, r.OrderID)
				continue
			}
			logger.Warn("[Executor] protective leg failed",
				zap.String("symbol", symbol), zap.String("leg", legName(leg)), zap.Error(r.Err))
			lastErrs[legName(leg)] = r.Err
			if leg.Kind == model.LegStopLoss {
				next.StopLoss = &leg
			} else {
				next.TakeProfits = append(next.TakeProfits, leg)
			}
		}
		if len(lastErrs) == 0 {
			return nil
		}
		pending = next
		return errors.New("protective legs failed")
	})

	failed := make([]string, 0, len(lastErrs))
	for _, leg := range pending.Legs() {
		if _, ok := lastErrs[legName(leg)]; ok {
			failed = append(failed, legName(leg))
		}
	}
	return ids, failed
}

func (e *Executor) skip(symbol, reason string) {
	e.ledger.Update(symbol, func(p *model.Position) { p.Reason = reason })
}

func legName(leg model.ProtectiveLeg) string {
	if leg.Kind == model.LegStopLoss {
		return "SL"
	}
	return fmt.Sprintf("TP%d", leg.Index)
}

func clientID() string {
	// OKX clOrdId 只允许字母数字，最长32位
	id := uuid.New()
	return fmt.Sprintf("gg%x", id[:15])
}

func errString(err error) string {
	if err == nil {
		return "rejected"
	}
	return err.Error()
}
