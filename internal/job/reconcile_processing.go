package job

import (
	"context"
	"log"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/gateway"
	"escrowpay/internal/model"
	"escrowpay/internal/repository"
	"escrowpay/internal/service"

	"gorm.io/gorm"
)

// ReconcileProcessingJob 滞留交易对账任务
//
// webhook 可能丢失，PROCESSING 状态的交易不能无限等下去。
// 超过配置时限仍未终态的交易，主动去渠道查一次权威状态并推进状态机。
type ReconcileProcessingJob struct {
	txnRepo   *repository.TransactionRepository
	txnSvc    *service.TransactionService
	gw        gateway.Gateway
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewReconcileProcessingJob(db *gorm.DB, cfg *config.Config, gw gateway.Gateway, txnSvc *service.TransactionService) *ReconcileProcessingJob {
	return &ReconcileProcessingJob{
		txnRepo:   repository.NewTransactionRepository(db),
		txnSvc:    txnSvc,
		gw:        gw,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 50,
	}
}

func (j *ReconcileProcessingJob) Start(ctx context.Context) {
	log.Println("[ReconcileProcessingJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileProcessingJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileProcessingJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileStaleTransactions(ctx)
		}
	}
}

func (j *ReconcileProcessingJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileProcessingJob) reconcileStaleTransactions(ctx context.Context) {
	beforeTime := time.Now().Add(-time.Duration(j.cfg.Business.ProcessingTimeout) * time.Minute)
	txns, err := j.txnRepo.GetStaleProcessing(ctx, beforeTime, j.batchSize)
	if err != nil {
		log.Printf("[ReconcileProcessingJob] 查询滞留交易失败: %v", err)
		return
	}

	if len(txns) == 0 {
		return
	}

	log.Printf("[ReconcileProcessingJob] 发现 %d 笔需要对账的交易", len(txns))

	for _, txn := range txns {
		j.reconcileTransaction(ctx, txn)
	}
}

func (j *ReconcileProcessingJob) reconcileTransaction(ctx context.Context, txn *model.Transaction) {
	if txn.ProviderPaymentID == "" {
		// 渠道侧还没有支付单，用户可能压根没去支付，超时直接置失败
		if err := j.txnSvc.FailTransaction(ctx, txn.TransactionNo, ""); err != nil {
			log.Printf("[ReconcileProcessingJob] 关闭滞留交易失败: transactionNo=%s, err=%v", txn.TransactionNo, err)
		} else {
			log.Printf("[ReconcileProcessingJob] 滞留交易已标记失败: transactionNo=%s", txn.TransactionNo)
		}
		return
	}

	status, err := j.gw.Fetch(ctx, txn.ProviderPaymentID)
	if err != nil {
		log.Printf("[ReconcileProcessingJob] 查询渠道状态失败: transactionNo=%s, err=%v", txn.TransactionNo, err)
		return
	}

	switch status.Status {
	case gateway.ProviderStatusApproved:
		if _, err := j.txnSvc.CompleteTransaction(ctx, txn.TransactionNo, status.ProviderPaymentID); err != nil {
			log.Printf("[ReconcileProcessingJob] 补偿完成交易失败: transactionNo=%s, err=%v", txn.TransactionNo, err)
		} else {
			log.Printf("[ReconcileProcessingJob] 补偿成功，交易已完成: transactionNo=%s", txn.TransactionNo)
		}
	case gateway.ProviderStatusRejected, gateway.ProviderStatusCancelled:
		if err := j.txnSvc.FailTransaction(ctx, txn.TransactionNo, status.ProviderPaymentID); err != nil {
			log.Printf("[ReconcileProcessingJob] 标记交易失败出错: transactionNo=%s, err=%v", txn.TransactionNo, err)
		} else {
			log.Printf("[ReconcileProcessingJob] 交易已标记失败: transactionNo=%s", txn.TransactionNo)
		}
	case gateway.ProviderStatusRefunded:
		if _, err := j.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "渠道对账退款"); err != nil {
			log.Printf("[ReconcileProcessingJob] 对账退款失败: transactionNo=%s, err=%v", txn.TransactionNo, err)
		}
	default:
		// pending / in_process：渠道侧还在处理，留给下一轮
		log.Printf("[ReconcileProcessingJob] 渠道仍在处理中，等待下一轮: transactionNo=%s, status=%s",
			txn.TransactionNo, status.Status)
	}
}
