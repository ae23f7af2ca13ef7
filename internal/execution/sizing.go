package execution

import (
	"fmt"

	"ggshot/pkg/utils"
)

// Sizer 开仓数量策略，不同交易所的下单单位不同
type Sizer interface {
	// Size 根据权益和入场价计算数量
	Size(equity, entry float64) (float64, error)
	// LotStep 最小下单单位
	LotStep() float64
	// UsesEquity 是否需要先查询权益
	UsesEquity() bool
}

const (
	minContracts = 1
	maxContracts = 100
)

// ContractSizer 按张下单：权益的 RiskPct 向下取整到 Step，限制在 [1, 100] 张
// Step 为0时按整张
type ContractSizer struct {
	RiskPct float64
	Step    float64
}

func (s ContractSizer) Size(equity, entry float64) (float64, error) {
	if equity <= 0 {
		return 0, fmt.Errorf("equity %.2f is not positive", equity)
	}
	qty := utils.FloorToStep(equity*s.RiskPct, s.LotStep())
	qty = max(minContracts, min(maxContracts, qty))
	return qty, nil
}

func (s ContractSizer) LotStep() float64 {
	if s.Step > 0 {
		return s.Step
	}
	return 1
}

func (s ContractSizer) UsesEquity() bool { return true }

// ContinuousSizer 按币数量下单：权益的 RiskPct 除以入场价，四舍五入到 Step
// Step 为0时保留6位小数
type ContinuousSizer struct {
	RiskPct float64
	Step    float64
}

const continuousStep = 1e-6

func (s ContinuousSizer) Size(equity, entry float64) (float64, error) {
	if equity <= 0 {
		return 0, fmt.Errorf("equity %.2f is not positive", equity)
	}
	if entry <= 0 {
		return 0, fmt.Errorf("entry price %.8f is not positive", entry)
	}
	step := s.LotStep()
	qty := utils.RoundToStep(equity*s.RiskPct/entry, step)
	if qty < step {
		return 0, fmt.Errorf("quantity %.8f below minimum %v", equity*s.RiskPct/entry, step)
	}
	return qty, nil
}

func (s ContinuousSizer) LotStep() float64 {
	if s.Step > 0 {
		return s.Step
	}
	return continuousStep
}

func (s ContinuousSizer) UsesEquity() bool { return true }

// FixedSizer 固定数量，测试盘使用1张
type FixedSizer struct {
	Quantity float64
	Step     float64
}

func (s FixedSizer) Size(equity, entry float64) (float64, error) {
	if s.Quantity <= 0 {
		return 0, fmt.Errorf("fixed quantity %.6f is not positive", s.Quantity)
	}
	return s.Quantity, nil
}

func (s FixedSizer) LotStep() float64 {
	if s.Step > 0 {
		return s.Step
	}
	return 1
}

func (s FixedSizer) UsesEquity() bool { return false }

// NewSizer 根据配置选择下单数量策略，lotStep 为0时用各策略的默认单位
func NewSizer(kind string, riskPct, lotStep float64, testMode bool) (Sizer, error) {
	if testMode {
		return FixedSizer{Quantity: 1, Step: lotStep}, nil
	}
	switch kind {
	case "contract":
		return ContractSizer{RiskPct: riskPct, Step: lotStep}, nil
	case "continuous":
		return ContinuousSizer{RiskPct: riskPct, Step: lotStep}, nil
	default:
		return nil, fmt.Errorf("unknown sizing %q", kind)
	}
}
