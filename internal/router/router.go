package router

import (
	"ggshot/internal/handler/ping"
	"ggshot/internal/handler/status"
	"ggshot/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ApiRouter struct {
	statusHandler *status.StatusHandler
}

func NewApiRouter(sh *status.StatusHandler) *ApiRouter {
	return &ApiRouter{statusHandler: sh}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(gin.Recovery(), middleware.RequestId(), middleware.Logger)

	// 健康检查
	g.GET("/ping", ping.Ping())

	// prometheus 抓取
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s := g.Group("/status", middleware.NoCache())
	{
		s.GET("", api.statusHandler.EngineStatus())
		s.GET("/positions", api.statusHandler.Positions())
	}
}
