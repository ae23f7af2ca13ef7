package execution

import (
	"fmt"

	"ggshot/internal/model"
	"ggshot/pkg/utils"

	"github.com/shopspring/decimal"
)

// Protector 止盈止损下单策略
type Protector interface {
	Plan(sig model.Signal, qty, lotStep float64) Plan
}

// Plan 一次要提交的保护单
type Plan struct {
	StopLoss    model.ProtectiveLeg
	TakeProfits []model.ProtectiveLeg
}

// BracketProtection 一个止损一个止盈，都是全部数量
type BracketProtection struct {
	TriggerBy model.TriggerBy
}

func (b BracketProtection) Plan(sig model.Signal, qty, lotStep float64) Plan {
	return Plan{
		StopLoss: model.ProtectiveLeg{Kind: model.LegStopLoss, Price: sig.StopLoss, Quantity: qty, TriggerBy: b.TriggerBy},
		TakeProfits: []model.ProtectiveLeg{
			{Kind: model.LegTakeProfit, Index: 1, Price: sig.TakeProfit, Quantity: qty, TriggerBy: b.TriggerBy},
		},
	}
}

// 阶梯止盈每档的数量比例
var LadderFractions = [4]float64{0.4, 0.3, 0.2, 0.1}

// LadderProtection 全量止损 + TP1..TP4 分批止盈
// 每档向下取整到最小单位，不足一个单位的档位跳过
type LadderProtection struct {
	TriggerBy model.TriggerBy
}

func (l LadderProtection) Plan(sig model.Signal, qty, lotStep float64) Plan {
	p := Plan{
		StopLoss: model.ProtectiveLeg{Kind: model.LegStopLoss, Price: sig.StopLoss, Quantity: qty, TriggerBy: l.TriggerBy},
	}
	for i, frac := range LadderFractions {
		// 0.3 之类的比例在 float 下乘出来会略小，用 decimal 乘
		raw, _ := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(frac)).Float64()
		size := utils.FloorToStep(raw, lotStep)
		if size < lotStep {
			continue
		}
		p.TakeProfits = append(p.TakeProfits, model.ProtectiveLeg{
			Kind:      model.LegTakeProfit,
			Index:     i + 1,
			Price:     sig.TakeProfits[i],
			Quantity:  size,
			TriggerBy: l.TriggerBy,
		})
	}
	return p
}

func NewProtector(kind string) (Protector, error) {
	switch kind {
	case "bracket":
		return BracketProtection{TriggerBy: model.TriggerByMark}, nil
	case "ladder":
		return LadderProtection{TriggerBy: model.TriggerByMark}, nil
	default:
		return nil, fmt.Errorf("unknown protection %q", kind)
	}
}
