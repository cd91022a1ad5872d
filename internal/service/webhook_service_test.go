package service

import (
	"context"
	"testing"

	"escrowpay/internal/gateway"
	"escrowpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessingTxn(t *testing.T, env *testEnv) *model.Transaction {
	t.Helper()

	txn, err := env.txnSvc.CreateTransaction(context.Background(), &CreateTransactionRequest{
		RequestID: "req-webhook-" + t.Name(),
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	txn, err = env.txnSvc.ProcessPayment(context.Background(), txn.TransactionNo)
	require.NoError(t, err)
	return txn
}

func paymentEvent(providerPaymentID string) *WebhookEvent {
	event := &WebhookEvent{Type: "payment"}
	event.Data.ID = providerPaymentID
	return event
}

func TestWebhookApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := newProcessingTxn(t, env)
	env.gw.setStatus("mp-1001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusApproved,
		Amount:            txn.Amount,
	})

	require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-1001")))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, got.Status)
	assert.Equal(t, "mp-1001", got.ProviderPaymentID)
	assert.Equal(t, int64(95000), env.balanceOf(t, 2))
}

func TestWebhookDuplicateApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := newProcessingTxn(t, env)
	env.gw.setStatus("mp-2001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusApproved,
		Amount:            txn.Amount,
	})

	// 同一条回调投递三次：一次入账、一张发票、一条结算事件
	for i := 0; i < 3; i++ {
		require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-2001")))
	}

	assert.Equal(t, int64(95000), env.balanceOf(t, 2))

	var invoiceCount int64
	require.NoError(t, env.db.Model(&model.Invoice{}).Count(&invoiceCount).Error)
	assert.Equal(t, int64(1), invoiceCount)
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventTransactionCompleted))
}

func TestWebhookRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := newProcessingTxn(t, env)
	env.gw.setStatus("mp-3001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusRejected,
	})

	require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-3001")))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, got.Status)
	assert.Equal(t, int64(0), env.balanceOf(t, 2))
}

func TestWebhookOutOfOrderPendingAfterApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := newProcessingTxn(t, env)
	env.gw.setStatus("mp-4001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusApproved,
		Amount:            txn.Amount,
	})
	require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-4001")))

	// 渠道侧状态回拨成 pending（乱序重放），交易必须留在终态
	env.gw.setStatus("mp-4001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusPending,
	})
	require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-4001")))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, got.Status)
}

func TestWebhookUnknownPaymentAcked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 渠道查不到的支付单：记日志丢弃，照常 ACK
	assert.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-ghost")))
}

func TestWebhookUnresolvableReferenceAcked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 渠道返回了一个我方不存在的交易号
	env.gw.setStatus("mp-5001", &gateway.PaymentStatus{
		ExternalReference: "TXN-DOES-NOT-EXIST",
		Status:            gateway.ProviderStatusApproved,
	})
	assert.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-5001")))
}

func TestWebhookIgnoresNonPaymentEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	event := &WebhookEvent{Type: "plan"}
	event.Data.ID = "whatever"
	assert.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, event))

	// 缺支付单号的报文同样丢弃
	assert.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, &WebhookEvent{Type: "payment"}))
}

func TestWebhookRefunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)
	env.gw.setStatus("mp-6001", &gateway.PaymentStatus{
		ExternalReference: txn.TransactionNo,
		Status:            gateway.ProviderStatusRefunded,
	})

	require.NoError(t, env.webhookSvc.HandleProviderWebhook(ctx, paymentEvent("mp-6001")))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusRefunded, got.Status)
	assert.Equal(t, int64(0), env.balanceOf(t, 2))
	assert.Equal(t, int64(95000), env.balanceOf(t, 1))
}
