package handler

import (
	"log"
	"net/http"
	"time"

	"escrowpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware 访问日志
//
// 结算接口的调用方身份从请求头取（见 actorFromHeader），一并打进日志，
// 方便对账时按操作人回查。
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		actor := c.GetHeader(headerUserID)
		if actor == "" {
			actor = "-"
		}

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | actor=%s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			actor,
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 兜底恢复，资金接口 panic 时返回统一错误体
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(http.StatusOK, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Role")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
