package job

import (
	"context"
	"errors"
	"log"
	"time"

	"escrowpay/internal/repository"
	"escrowpay/internal/service"
	"escrowpay/pkg/errs"

	"gorm.io/gorm"
)

// EscrowAutoReleaseJob 托管自动放款任务
//
// 扫描超过自动放款时间仍为 ACTIVE 的托管账户，以系统身份放款。
// 走和手动放款完全相同的服务路径，幂等性由条件状态迁移保证。
type EscrowAutoReleaseJob struct {
	escrowRepo *repository.EscrowRepository
	escrowSvc  *service.EscrowService
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewEscrowAutoReleaseJob(db *gorm.DB, escrowSvc *service.EscrowService) *EscrowAutoReleaseJob {
	return &EscrowAutoReleaseJob{
		escrowRepo: repository.NewEscrowRepository(db),
		escrowSvc:  escrowSvc,
		stopCh:     make(chan struct{}),
		interval:   10 * time.Second,
		batchSize:  100,
	}
}

func (j *EscrowAutoReleaseJob) Start(ctx context.Context) {
	log.Println("[EscrowAutoReleaseJob] 自动放款任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[EscrowAutoReleaseJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[EscrowAutoReleaseJob] 任务停止")
			return
		case <-ticker.C:
			j.releaseExpiredEscrows(ctx)
		}
	}
}

func (j *EscrowAutoReleaseJob) Stop() {
	close(j.stopCh)
}

func (j *EscrowAutoReleaseJob) releaseExpiredEscrows(ctx context.Context) {
	escrows, err := j.escrowRepo.GetExpiredActive(ctx, j.batchSize)
	if err != nil {
		log.Printf("[EscrowAutoReleaseJob] 查询到期托管账户失败: %v", err)
		return
	}

	if len(escrows) == 0 {
		return
	}

	log.Printf("[EscrowAutoReleaseJob] 发现 %d 个到期托管账户", len(escrows))

	releasedCount := 0
	for _, escrow := range escrows {
		_, err := j.escrowSvc.ReleaseEscrow(ctx, escrow.EscrowNo, service.SystemActor, "到期自动放款")
		if err != nil {
			// 状态已变化（手动放款抢先、争议中）属于正常竞争，降级为普通日志
			if errors.Is(err, errs.ErrState) {
				log.Printf("[EscrowAutoReleaseJob] 托管账户状态已变化，跳过: escrowNo=%s", escrow.EscrowNo)
			} else {
				log.Printf("[EscrowAutoReleaseJob] 自动放款失败: escrowNo=%s, err=%v", escrow.EscrowNo, err)
			}
			continue
		}
		releasedCount++
		log.Printf("[EscrowAutoReleaseJob] 托管自动放款成功: escrowNo=%s, freelancer=%d, amount=%d",
			escrow.EscrowNo, escrow.FreelancerID, escrow.FreelancerAmount)
	}

	log.Printf("[EscrowAutoReleaseJob] 本次放款 %d 个托管账户", releasedCount)
}
