package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"escrowpay/internal/config"
	"escrowpay/internal/gateway"
	"escrowpay/internal/infrastructure/database"
	"escrowpay/internal/model"
	"escrowpay/pkg/errs"
	"escrowpay/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

// newTestDB 内存 sqlite，表结构与生产一致
//
// 连接数限制为1：内存库每个连接各自独立，多连接会看到空库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Business = config.BusinessConfig{
		FeePercent:        5,
		AutoReleaseDays:   7,
		WithdrawalMin:     1000,
		WithdrawalMax:     10000000,
		WithdrawalFee:     200,
		ProcessingTimeout: 30,
		MaxRetryCount:     5,
	}
	cfg.Kafka.Topic.SettlementResult = "settlement-result"
	cfg.Kafka.Topic.WithdrawalResult = "withdrawal-result"
	return cfg
}

// fakeGateway 可编程的渠道替身
type fakeGateway struct {
	mu        sync.Mutex
	submitErr error
	statuses  map[string]*gateway.PaymentStatus // providerPaymentID -> 权威状态
	seq       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]*gateway.PaymentStatus)}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Submit(ctx context.Context, txn *model.Transaction) (*gateway.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.seq++
	prefID := fmt.Sprintf("pref-%d", g.seq)
	return &gateway.PaymentIntent{
		PreferenceID: prefID,
		RedirectURL:  "https://checkout.example.com/" + prefID,
	}, nil
}

func (g *fakeGateway) Fetch(ctx context.Context, providerPaymentID string) (*gateway.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[providerPaymentID]
	if !ok {
		return nil, errs.Wrap(errs.ErrProvider, "渠道支付单不存在: %s", providerPaymentID)
	}
	return status, nil
}

// setStatus 注入一条渠道侧权威状态
func (g *fakeGateway) setStatus(providerPaymentID string, status *gateway.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status.ProviderPaymentID = providerPaymentID
	g.statuses[providerPaymentID] = status
}

// testEnv 服务层测试环境
type testEnv struct {
	db            *gorm.DB
	redisClient   *redis.Client
	cfg           *config.Config
	gw            *fakeGateway
	txnSvc        *TransactionService
	escrowSvc     *EscrowService
	balanceSvc    *BalanceService
	withdrawalSvc *WithdrawalService
	invoiceSvc    *InvoiceService
	webhookSvc    *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	redisClient := newTestRedis(t)
	cfg := testConfig()
	gw := newFakeGateway()

	txnSvc := NewTransactionService(db, redisClient, cfg, gw)
	return &testEnv{
		db:            db,
		redisClient:   redisClient,
		cfg:           cfg,
		gw:            gw,
		txnSvc:        txnSvc,
		escrowSvc:     NewEscrowService(db, redisClient, cfg),
		balanceSvc:    NewBalanceService(db),
		withdrawalSvc: NewWithdrawalService(db, redisClient, cfg),
		invoiceSvc:    NewInvoiceService(db),
		webhookSvc:    NewWebhookService(gw, txnSvc),
	}
}

// createCompletedPayment 创建并完成一笔非托管支付，收款方余额到净额
func (e *testEnv) createCompletedPayment(t *testing.T, payerID, payeeID, amount int64) *model.Transaction {
	t.Helper()

	txn, err := e.txnSvc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		RequestID: fmt.Sprintf("req-%s", idgen.GenerateFlowNo()),
		PayerID:   payerID,
		PayeeID:   payeeID,
		Amount:    amount,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	txn, err = e.txnSvc.CompleteTransaction(context.Background(), txn.TransactionNo, "prov-"+txn.TransactionNo)
	require.NoError(t, err)
	require.Equal(t, model.TransactionStatusCompleted, txn.Status)
	return txn
}

// createFundedEscrow 创建一笔已完成的托管支付及其托管账户
func (e *testEnv) createFundedEscrow(t *testing.T, clientID, freelancerID, amount int64) (*model.Transaction, *model.EscrowAccount) {
	t.Helper()

	txn, err := e.txnSvc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		RequestID: fmt.Sprintf("req-%s", idgen.GenerateFlowNo()),
		PayerID:   clientID,
		PayeeID:   freelancerID,
		Amount:    amount,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	escrow, err := e.escrowSvc.CreateEscrowAccount(context.Background(), &CreateEscrowRequest{
		TransactionNo: txn.TransactionNo,
		ProjectID:     100,
		MilestoneID:   1,
		ClientID:      clientID,
		FreelancerID:  freelancerID,
	})
	require.NoError(t, err)

	txn, err = e.txnSvc.CompleteTransaction(context.Background(), txn.TransactionNo, "prov-"+txn.TransactionNo)
	require.NoError(t, err)
	return txn, escrow
}

func (e *testEnv) balanceOf(t *testing.T, userID int64) int64 {
	t.Helper()
	balance, err := e.balanceSvc.GetUserBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance.Balance
}

func (e *testEnv) countOutbox(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).
		Where("event_type = ?", eventType).Count(&count).Error)
	return count
}
