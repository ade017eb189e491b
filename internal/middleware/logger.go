package middleware

import (
	"time"

	"edgetrader/internal/consts"
	"edgetrader/pkg/logger"

	"github.com/gin-gonic/gin"
)

func Logger(c *gin.Context) {
	// 请求前
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()

	logger.Info("[Request Start]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("method", method))

	c.Next()
	// 请求后
	logger.Info("[Request End]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("path", reqPath),
		logger.Pair("status", c.Writer.Status()),
		logger.Pair("cost", time.Since(t)))
}

// Middleware 全局中间件，实现 Router 接口后与业务路由一起加载
type Middleware struct{}

func NewMiddleware() *Middleware {
	return &Middleware{}
}

func (m *Middleware) Load(g *gin.Engine) {
	g.Use(gin.Recovery(), RequestId(), Logger, Secure(), NoCache())
}
