package service

import (
	"context"
	"errors"
	"log"

	"escrowpay/internal/gateway"
	"escrowpay/pkg/errs"
)

// WebhookService 支付渠道回调对账
//
// 【关键点】回调只是"去渠道查一次"的触发器：
// 1. 不信任回调携带的状态，以渠道查询接口返回的为准
// 2. 找不到对应交易的回调记日志后丢弃，照常 ACK，渠道不会无限重发
// 3. 幂等由交易服务的状态机保证，重复回调不会二次记账
type WebhookService struct {
	gw     gateway.Gateway
	txnSvc *TransactionService
}

func NewWebhookService(gw gateway.Gateway, txnSvc *TransactionService) *WebhookService {
	return &WebhookService{gw: gw, txnSvc: txnSvc}
}

// WebhookEvent 渠道回调报文
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HandleProviderWebhook 处理渠道回调
//
// 返回 nil 表示应当 ACK。处理中的业务错误一律吞掉并记日志——
// 对渠道重试没有意义的失败不该让它重发。
func (s *WebhookService) HandleProviderWebhook(ctx context.Context, event *WebhookEvent) error {
	if event.Type != "payment" {
		log.Printf("忽略非支付类型回调: type=%s", event.Type)
		return nil
	}
	if event.Data.ID == "" {
		log.Printf("回调缺少支付单号，丢弃")
		return nil
	}

	// 以渠道查询结果为准，不信任回调自带的状态
	status, err := s.gw.Fetch(ctx, event.Data.ID)
	if err != nil {
		log.Printf("查询渠道支付状态失败: providerPaymentID=%s, err=%v", event.Data.ID, err)
		return nil
	}

	transactionNo := status.ExternalReference
	if transactionNo == "" {
		log.Printf("渠道支付单没有关联交易号，丢弃: providerPaymentID=%s", event.Data.ID)
		return nil
	}

	s.applyProviderStatus(ctx, transactionNo, status)
	return nil
}

// applyProviderStatus 把渠道状态映射到交易状态机
func (s *WebhookService) applyProviderStatus(ctx context.Context, transactionNo string, status *gateway.PaymentStatus) {
	var err error
	switch status.Status {
	case gateway.ProviderStatusApproved:
		_, err = s.txnSvc.CompleteTransaction(ctx, transactionNo, status.ProviderPaymentID)
	case gateway.ProviderStatusPending, gateway.ProviderStatusInProcess:
		err = s.txnSvc.MarkProcessing(ctx, transactionNo, status.ProviderPaymentID)
	case gateway.ProviderStatusRejected, gateway.ProviderStatusCancelled:
		err = s.txnSvc.FailTransaction(ctx, transactionNo, status.ProviderPaymentID)
	case gateway.ProviderStatusRefunded:
		_, err = s.txnSvc.RefundTransaction(ctx, transactionNo, "渠道退款回调")
	default:
		log.Printf("未知的渠道支付状态: transactionNo=%s, status=%s", transactionNo, status.Status)
		return
	}

	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Printf("回调对应的交易不存在，丢弃: transactionNo=%s", transactionNo)
			return
		}
		log.Printf("处理渠道状态失败: transactionNo=%s, status=%s, err=%v",
			transactionNo, status.Status, err)
	}
}
