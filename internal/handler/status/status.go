package status

import (
	"errors"

	"ggshot/internal/strategy"
	"ggshot/pkg/response"

	"github.com/gin-gonic/gin"
)

// Provider 引擎实现，测试里可以替换
type Provider interface {
	Status() strategy.Status
}

type StatusHandler struct {
	provider Provider
}

func NewStatusHandler(p Provider) *StatusHandler {
	return &StatusHandler{provider: p}
}

// EngineStatus 订阅、K线缓存、持仓状态和最近成交价
func (sh *StatusHandler) EngineStatus() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		st := sh.provider.Status()
		if !st.Running {
			response.JSON(ctx, errors.New("engine not running"), st)
			return
		}
		response.JSON(ctx, nil, st)
	}
}

// Positions 只返回持仓部分
func (sh *StatusHandler) Positions() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		st := sh.provider.Status()
		response.JSON(ctx, nil, gin.H{
			"positions": st.Positions,
			"outcomes":  st.Outcomes,
		})
	}
}
