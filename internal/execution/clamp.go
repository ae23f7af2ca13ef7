package execution

import (
	"math"

	"ggshot/internal/model"
	"ggshot/pkg/utils"
)

// ClampLevels 保证止损和止盈在入场价正确的一侧
// 多: sl <= entry <= tp，空: tp <= entry <= sl
func ClampLevels(kind model.SignalKind, entry, sl float64, tps ...float64) (float64, []float64) {
	out := make([]float64, len(tps))
	if kind == model.SignalShort {
		sl = math.Max(sl, entry)
		for i, tp := range tps {
			out[i] = math.Min(tp, entry)
		}
		return sl, out
	}
	sl = math.Min(sl, entry)
	for i, tp := range tps {
		out[i] = math.Max(tp, entry)
	}
	return sl, out
}

// applyLevels 入场价先按精度取整，再夹紧并取整所有保护单价格
func applyLevels(kind model.SignalKind, entry float64, plan Plan, precision int32) (float64, Plan) {
	entry = utils.RoundPrice(entry, precision)

	tps := make([]float64, len(plan.TakeProfits))
	for i, leg := range plan.TakeProfits {
		tps[i] = leg.Price
	}
	sl, tps := ClampLevels(kind, entry, plan.StopLoss.Price, tps...)

	plan.StopLoss.Price = utils.RoundPrice(sl, precision)
	legs := make([]model.ProtectiveLeg, len(plan.TakeProfits))
	for i, leg := range plan.TakeProfits {
		leg.Price = utils.RoundPrice(tps[i], precision)
		legs[i] = leg
	}
	plan.TakeProfits = legs
	return entry, plan
}
