package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edgetrader/internal/consts"
	"edgetrader/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// NoCache 控制客户端不要使用缓存
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, max-age=0, must-revalidate")
		c.Header("Expires", "Thu, 01 Jan 1970 00:00:00 GMT")
		c.Header("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		c.Next()
	}
}

// Secure 添加安全控制
func Secure() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000")
		}
		c.Next()
	}
}

// RequestId 用来设置和透传requestId
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader("X-Request-Id")
		if requestId == "" {
			requestId = strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		}
		c.Header("X-Request-Id", requestId)

		// 设置requestId到context中，便于后面调用链的透传
		c.Set(consts.RequestId, requestId)
		c.Next()
	}
}

// 限制缓存的最大大小为 500，且是并发安全的 LRU 缓存
var reqCache, _ = lru.New(500)
var duplicateThreshold = 1 * time.Second

// AntiDuplicateMiddleware 防止同一 IP 在 1 秒内重复提交同一运维操作
func AntiDuplicateMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// IP + 接口路径 作为key
		key := c.ClientIP() + c.Request.URL.Path
		if value, ok := reqCache.Get(key); ok {
			if time.Since(value.(time.Time)) < duplicateThreshold {
				response.TooManyRequests(c)
				c.Abort()
				return
			}
		}
		reqCache.Add(key, time.Now())
		c.Next()
	}
}

var signatureTTL = time.Minute

// OpsGuard 运维接口只允许本机调用，或携带 HMAC(timestamp, secret) 签名
func OpsGuard(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isLocalIP(c.ClientIP()) {
			c.Next()
			return
		}
		if secret == "" {
			response.ForbiddenRequest(c)
			c.Abort()
			return
		}
		timestamp := c.GetHeader(consts.Timestamp)
		signature := c.GetHeader(consts.Signature)

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			response.ForbiddenRequest(c)
			c.Abort()
			return
		}
		age := time.Since(time.Unix(ts, 0))
		if age > signatureTTL || age < -signatureTTL {
			response.ForbiddenRequest(c)
			c.Abort()
			return
		}
		if !hmac.Equal([]byte(signature), []byte(computeHMAC(timestamp, []byte(secret)))) {
			response.ForbiddenRequest(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

func computeHMAC(data string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// 检测请求的ip是否是本地ip
func isLocalIP(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
