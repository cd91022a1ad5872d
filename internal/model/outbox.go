package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionRefunded  = "transaction.refunded"
	EventEscrowReleased       = "escrow.released"
	EventEscrowRefunded       = "escrow.refunded"
	EventWithdrawalCreated    = "withdrawal.created"
)

// OutboxMessage 事务性发件箱
//
// 结算结果不直接调用下游（项目服务、出纳、通知），而是在资金事务里
// 同事务落一条消息，由后台任务投递到 Kafka——下游通过事件间接感知
// 状态变化，资金事务失败时消息也一起回滚。
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 业务单号
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
