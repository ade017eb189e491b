package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edgetrader/conf"
	"edgetrader/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Router 加载路由，使用侧提供接口，实现侧需要实现该接口
type Router interface {
	Load(engine *gin.Engine)
}

type Server struct {
	config *conf.Config
	f      func()
}

func NewServer(c *conf.Config) *Server {
	return &Server{
		config: c,
	}
}

// Run 阻塞直到 ctx 结束，随后优雅关闭
func (s *Server) Run(ctx context.Context, rs ...Router) error {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	// 运维接口按来源地址鉴权，不信任代理头
	if err := g.SetTrustedProxies(nil); err != nil {
		return err
	}
	s.routerLoad(g, rs...)

	// health check
	go func() {
		if err := Ping(ctx, s.config.Listen, s.config.MaxPingCount); err != nil {
			logger.Errorf("server no response: %v", err)
			return
		}
		logger.Infof("server started success! port: %s", s.config.Listen)
	}()

	srv := http.Server{
		Addr:    s.config.Listen,
		Handler: g,
	}
	if s.f != nil {
		srv.RegisterOnShutdown(s.f)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start failed on port %s: %w", s.config.Listen, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Infof("server shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown err %v", err)
	}
	logger.Infof("server stop on port %s", s.config.Listen)
	return nil
}

// RouterLoad 加载自定义路由
func (s *Server) routerLoad(g *gin.Engine, rs ...Router) *Server {
	for _, r := range rs {
		r.Load(g)
	}
	return s
}

// RegisterOnShutdown 注册shutdown后的回调处理函数，用于清理资源
func (s *Server) RegisterOnShutdown(_f func()) {
	s.f = _f
}

// Ping 用来检查是否程序正常启动
func Ping(ctx context.Context, port string, maxCount int) error {
	if len(port) == 0 {
		return errors.New("please specify the service port")
	}
	if !strings.HasPrefix(port, ":") {
		if i := strings.LastIndex(port, ":"); i >= 0 {
			port = port[i:]
		} else {
			port = ":" + port
		}
	}
	url := fmt.Sprintf("http://localhost%s/ping", port)
	for i := 1; i <= maxCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		logger.Infof("等待服务在线, 已等待 %d 秒，最多等待 %d 秒", i, maxCount)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("服务启动失败，端口 %s", port)
}
