package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/gateway"
	"escrowpay/internal/handler"
	"escrowpay/internal/infrastructure/cache"
	"escrowpay/internal/infrastructure/database"
	"escrowpay/internal/infrastructure/mq"
	"escrowpay/internal/job"
	"escrowpay/internal/service"
	"escrowpay/pkg/idgen"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	publisher, err := mq.NewPublisher(&cfg.Kafka)
	if err != nil {
		log.Fatalf("初始化 Kafka 失败: %v", err)
	}
	defer publisher.Close()

	// 支付渠道适配器
	gw := gateway.NewMercadoPagoGateway(cfg.Provider)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 后台任务共用的服务实例
	txnSvc := service.NewTransactionService(db, redisClient, cfg, gw)
	escrowSvc := service.NewEscrowService(db, redisClient, cfg)

	// 启动后台任务
	eventRelay := job.NewSettlementEventRelay(db, cfg, publisher)
	go eventRelay.Start(ctx)

	autoReleaseJob := job.NewEscrowAutoReleaseJob(db, escrowSvc)
	go autoReleaseJob.Start(ctx)

	reconcileJob := job.NewReconcileProcessingJob(db, cfg, gw, txnSvc)
	go reconcileJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, gw)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
