package handler

import (
	"escrowpay/internal/config"
	"escrowpay/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.Gateway) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(AccessLogMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, gw)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 交易相关
		transaction := api.Group("/transaction")
		{
			transaction.POST("/create", h.CreateTransaction)
			transaction.POST("/process", h.ProcessPayment)
			transaction.POST("/refund", h.RefundTransaction)
			transaction.GET("/detail", h.GetTransaction)
			transaction.GET("/list", h.ListTransactions)
		}

		// 托管相关
		escrow := api.Group("/escrow")
		{
			escrow.POST("/create", h.CreateEscrow)
			escrow.POST("/release", h.ReleaseEscrow)
			escrow.POST("/refund", h.RefundEscrow)
			escrow.POST("/dispute", h.DisputeEscrow)
			escrow.GET("/detail", h.GetEscrow)
		}

		// 余额相关
		balance := api.Group("/balance")
		{
			balance.GET("", h.GetBalance)
			balance.GET("/flows", h.ListFlows)
		}

		// 提现相关
		withdrawal := api.Group("/withdrawal")
		{
			withdrawal.POST("/create", h.CreateWithdrawal)
			withdrawal.GET("/list", h.ListWithdrawals)
		}

		// 发票相关
		invoice := api.Group("/invoice")
		{
			invoice.POST("/generate", h.GenerateInvoice)
			invoice.GET("/detail", h.GetInvoice)
		}

		// 渠道回调
		api.POST("/webhook/provider", h.ProviderWebhook)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
