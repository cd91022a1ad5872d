package gateway

import (
	"context"

	"escrowpay/internal/model"
)

// 渠道侧支付状态（归一化后的取值）
const (
	ProviderStatusApproved  = "approved"
	ProviderStatusPending   = "pending"
	ProviderStatusInProcess = "in_process"
	ProviderStatusRejected  = "rejected"
	ProviderStatusCancelled = "cancelled"
	ProviderStatusRefunded  = "refunded"
)

// PaymentIntent 渠道支付意图，Submit 的产物
type PaymentIntent struct {
	PreferenceID string `json:"preference_id"`
	RedirectURL  string `json:"redirect_url"`
}

// PaymentStatus 渠道侧支付单的权威状态
//
// webhook 本身不可信（金额、状态都可能被伪造或过期），
// 对账一律以 Fetch 回来的这份为准。
type PaymentStatus struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	ExternalReference string `json:"external_reference"` // 我方交易单号
	Status            string `json:"status"`
	Amount            int64  `json:"amount"` // 分
	Currency          string `json:"currency"`
}

// Gateway 支付渠道适配器
//
// 每个渠道一个实现，Webhook 对账只依赖这个接口，
// 不感知任何渠道细节。实现内部不持有本地记录的锁——
// 网络调用永远发生在锁外。
type Gateway interface {
	Name() string
	Submit(ctx context.Context, txn *model.Transaction) (*PaymentIntent, error)
	Fetch(ctx context.Context, providerPaymentID string) (*PaymentStatus, error)
}
