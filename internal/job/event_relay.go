package job

import (
	"context"
	"log"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/model"
	"escrowpay/internal/repository"

	"gorm.io/gorm"
)

type eventPublisher interface {
	Publish(topic, key, payload string) error
}

// SettlementEventRelay 把发件箱里的结算事件批量投递出去
//
// 投递成功才标记 SENT；失败累加重试次数，超过上限进死信，
// 等人工补偿。同一条事件可能被投递多次，下游按 message_key 去重。
type SettlementEventRelay struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	publisher  eventPublisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewSettlementEventRelay(db *gorm.DB, cfg *config.Config, publisher eventPublisher) *SettlementEventRelay {
	return &SettlementEventRelay{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *SettlementEventRelay) Start(ctx context.Context) {
	log.Println("[EventRelay] 结算事件投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[EventRelay] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[EventRelay] 任务停止")
			return
		case <-ticker.C:
			s.relayBatch(ctx)
		}
	}
}

func (s *SettlementEventRelay) Stop() {
	close(s.stopCh)
}

func (s *SettlementEventRelay) relayBatch(ctx context.Context) {
	messages, err := s.outboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		log.Printf("[EventRelay] 查询待投递事件失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.deliver(ctx, msg)
	}
}

func (s *SettlementEventRelay) deliver(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[EventRelay] 更新事件状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Printf("[EventRelay] 事件投递成功: id=%d, event=%s, topic=%s, key=%s",
				msg.ID, msg.EventType, msg.Topic, msg.MessageKey)
		}
		return
	}

	log.Printf("[EventRelay] 事件投递失败: id=%d, event=%s, err=%v", msg.ID, msg.EventType, err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkFailed(ctx, msg.ID); err != nil {
			log.Printf("[EventRelay] 标记死信失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[EventRelay] 事件超过最大重试次数，进入死信: id=%d", msg.ID)
		}
		return
	}

	if err := s.outboxRepo.MarkRetried(ctx, msg.ID); err != nil {
		log.Printf("[EventRelay] 累加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
}
