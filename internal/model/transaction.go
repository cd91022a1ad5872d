package model

import (
	"time"
)

const (
	TransactionStatusPending    = "PENDING"
	TransactionStatusProcessing = "PROCESSING"
	TransactionStatusCompleted  = "COMPLETED"
	TransactionStatusFailed     = "FAILED"
	TransactionStatusRefunded   = "REFUNDED"
)

// ValidTransactionTransitions 交易状态机
//
// PENDING → PROCESSING → {COMPLETED, FAILED}
// COMPLETED / FAILED 只能通过显式退款操作进入 REFUNDED。
// 终态之外不存在任何回退路径——渠道推送乱序（终态之后又来一条
// pending 事件）时，非法迁移会被这里直接拒绝。
var ValidTransactionTransitions = map[string][]string{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:  {TransactionStatusRefunded},
	TransactionStatusFailed:     {TransactionStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidTransactionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 是否终态（含退款态）
func IsTerminalStatus(status string) bool {
	return status == TransactionStatusCompleted ||
		status == TransactionStatusFailed ||
		status == TransactionStatusRefunded
}

const (
	TransactionTypePayment    = "PAYMENT"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypeFee        = "FEE"
)

// Transaction 资金交易表
//
// 每一笔资金转移意图一条记录，金额单位统一为分。
// 不变量：NetAmount + PlatformFeeAmount == Amount
type Transaction struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	RequestID         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，调用方传入
	PayerID           int64      `gorm:"index;not null" json:"payer_id"`
	PayeeID           int64      `gorm:"index;not null" json:"payee_id"`
	Type              string     `gorm:"type:varchar(20);not null" json:"type"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(8);not null;default:CNY" json:"currency"`
	PlatformFeeAmount int64      `gorm:"not null" json:"platform_fee_amount"`
	NetAmount         int64      `gorm:"not null" json:"net_amount"`
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ProviderName      string     `gorm:"type:varchar(32)" json:"provider_name"`
	ProviderPaymentID string     `gorm:"type:varchar(64);index" json:"provider_payment_id"` // 渠道支付单ID，webhook 对账用
	PreferenceID      string     `gorm:"type:varchar(64)" json:"preference_id"`
	RedirectURL       string     `gorm:"type:varchar(512)" json:"redirect_url"`
	CompletedAt       *time.Time `json:"completed_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}
