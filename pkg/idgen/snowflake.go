package idgen

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法业务单号生成器
// ============================================================================
//
// 结算引擎里的每一类资金实体都有全局唯一的业务单号：
//   交易单号 TXN、托管单号 ESC、提现单号 WDR、余额流水号 FLW
//
// 要求：全局唯一、趋势递增（便于索引）、不暴露业务量。
// 发票编号不在这里生成——发票要求按年份连续递增，由 InvoiceService
// 通过计数行串行分配。
//
// 【雪花ID结构】64位：0 - 41位毫秒时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{workerID: workerID}
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	if defaultGenerator == nil {
		Init(1) // 默认使用 workerID = 1
	}
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

// 业务单号格式：前缀 + 年月日时分秒 + 雪花ID后8位
// 例如：TXN2026011514305212345678
func businessNo(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateTransactionNo 生成交易单号
func GenerateTransactionNo() string {
	return businessNo("TXN")
}

// GenerateEscrowNo 生成托管账户单号
func GenerateEscrowNo() string {
	return businessNo("ESC")
}

// GenerateWithdrawalNo 生成提现单号
func GenerateWithdrawalNo() string {
	return businessNo("WDR")
}

// GenerateFlowNo 生成余额流水号
func GenerateFlowNo() string {
	return businessNo("FLW")
}
