package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// webhook 重复投递、自动放款扫描、用户手动放款可能同时命中同一个
// 托管账户；两笔并发提现可能同时扣同一份余额。
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性。
//
// 锁只保护本地记录的读改写窗口；渠道 HTTP 调用一律放在锁外。
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 先验证 value 是自己的再删除，避免锁过期后误删后来者的锁。
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按记录维度的业务锁
// ============================================================================
//
// 【设计思考】锁的粒度是单条记录，不是全库：
// 不同交易、不同托管账户、不同用户之间完全并发，
// 只有写同一条记录的操作互相排队。

// NewTransactionLock 交易维度锁（完成/失败/退款迁移共用）
func NewTransactionLock(client *redis.Client, transactionNo, holder string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:txn:%s", transactionNo)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// NewEscrowLock 托管账户维度锁（手动放款、自动放款、退款共用，
// 三条路径串行化后幂等检查才可靠）
func NewEscrowLock(client *redis.Client, escrowNo, holder string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:escrow:%s", escrowNo)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// NewWithdrawLock 用户维度提现锁
func NewWithdrawLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:withdraw:user:%d", userID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
