package model

import (
	"time"
)

// Invoice 发票表
//
// 每笔完成的支付交易最多开具一张发票（TransactionNo 唯一索引兜底）。
// 编号按年份连续递增，允许留空号，不允许复用。
type Invoice struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceNo     string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"invoice_no"` // 如 INV-2026-000123
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	PayerID       int64     `gorm:"index;not null" json:"payer_id"`
	PayeeID       int64     `gorm:"index;not null" json:"payee_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	PlatformFee   int64     `gorm:"not null" json:"platform_fee"`
	NetAmount     int64     `gorm:"not null" json:"net_amount"`
	Currency      string    `gorm:"type:varchar(8);not null" json:"currency"`
	Items         string    `gorm:"type:text" json:"items"` // 行项目 JSON
	IssuedAt      time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}

// InvoiceCounter 发票编号计数行
//
// 每个年份一行，LastSeq 单调递增。分配在年份维度的分布式锁内
// 条件更新，保证编号不会被两张发票复用。
type InvoiceCounter struct {
	ID      int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Year    int   `gorm:"uniqueIndex;not null" json:"year"`
	LastSeq int64 `gorm:"not null;default:0" json:"last_seq"`
}

func (InvoiceCounter) TableName() string {
	return "invoice_counter"
}
