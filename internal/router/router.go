package router

import (
	"net/http"

	"edgetrader/internal/handler/cycle"
	"edgetrader/internal/handler/ping"
	"edgetrader/internal/middleware"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	cycleHandler *cycle.Handler
	metrics      http.Handler
	opsSecret    string
}

func NewApiRouter(ch *cycle.Handler, metrics http.Handler, opsSecret string) *ApiRouter {
	return &ApiRouter{cycleHandler: ch, metrics: metrics, opsSecret: opsSecret}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.GET("/ping", ping.Ping())
	if api.metrics != nil {
		g.GET("/metrics", gin.WrapH(api.metrics))
	}

	base := g.Group("/api/v1")
	{
		base.GET("/state", api.cycleHandler.StateGet())
		base.GET("/report", api.cycleHandler.ReportGet())
		base.GET("/trades", api.cycleHandler.TradesGetList())
	}

	// 运维操作：本机或签名调用，且防重复提交
	ops := base.Group("", middleware.OpsGuard(api.opsSecret), middleware.AntiDuplicateMiddleware())
	{
		ops.POST("/breaker/reset", api.cycleHandler.BreakerReset())
		ops.POST("/reconcile", api.cycleHandler.ReconcileTrigger())
	}
}
