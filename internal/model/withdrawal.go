package model

import (
	"time"
)

const (
	WithdrawalStatusPending   = "PENDING"
	WithdrawalStatusProcessed = "PROCESSED"
	WithdrawalStatusRejected  = "REJECTED"
)

// Withdrawal 提现申请表
//
// 创建时余额已同事务扣减，终态（打款成功/驳回）由外部出纳方回写。
// 不变量：FinalAmount = RequestedAmount - ProcessingFee
type Withdrawal struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	RequestID       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID
	UserID          int64      `gorm:"index;not null" json:"user_id"`
	RequestedAmount int64      `gorm:"not null" json:"requested_amount"`
	ProcessingFee   int64      `gorm:"not null" json:"processing_fee"`
	FinalAmount     int64      `gorm:"not null" json:"final_amount"`
	Method          string     `gorm:"type:varchar(32);not null" json:"method"` // 如 bank_card / alipay
	Status          string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ProcessedAt     *time.Time `json:"processed_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}
