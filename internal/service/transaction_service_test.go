package service

import (
	"context"
	"testing"

	"escrowpay/internal/model"
	"escrowpay/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-create-1",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, txn.TransactionNo)
	assert.Equal(t, model.TransactionStatusPending, txn.Status)
	assert.Equal(t, "CNY", txn.Currency)
	assert.Equal(t, int64(5000), txn.PlatformFeeAmount)
	assert.Equal(t, int64(95000), txn.NetAmount)
	assert.Equal(t, txn.Amount, txn.PlatformFeeAmount+txn.NetAmount)
}

func TestCreateTransactionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := &CreateTransactionRequest{
		RequestID: "req-dup",
		PayerID:   1,
		PayeeID:   2,
		Amount:    50000,
		Type:      model.TransactionTypePayment,
	}

	first, err := env.txnSvc.CreateTransaction(ctx, req)
	require.NoError(t, err)

	second, err := env.txnSvc.CreateTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)

	var count int64
	require.NoError(t, env.db.Model(&model.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateTransactionRequest
	}{
		{"金额为零", &CreateTransactionRequest{RequestID: "r1", PayerID: 1, PayeeID: 2, Amount: 0, Type: model.TransactionTypePayment}},
		{"金额为负", &CreateTransactionRequest{RequestID: "r2", PayerID: 1, PayeeID: 2, Amount: -100, Type: model.TransactionTypePayment}},
		{"类型不合法", &CreateTransactionRequest{RequestID: "r3", PayerID: 1, PayeeID: 2, Amount: 100, Type: "GIFT"}},
		{"缺少付款方", &CreateTransactionRequest{RequestID: "r4", PayeeID: 2, Amount: 100, Type: model.TransactionTypePayment}},
		{"缺少请求号", &CreateTransactionRequest{PayerID: 1, PayeeID: 2, Amount: 100, Type: model.TransactionTypePayment}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.txnSvc.CreateTransaction(ctx, tt.req)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestProcessPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-process",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	txn, err = env.txnSvc.ProcessPayment(ctx, txn.TransactionNo)
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusProcessing, txn.Status)
	assert.Equal(t, "fake", txn.ProviderName)
	assert.NotEmpty(t, txn.PreferenceID)
	assert.NotEmpty(t, txn.RedirectURL)

	// 已提交的交易不能重复提交
	_, err = env.txnSvc.ProcessPayment(ctx, txn.TransactionNo)
	assert.ErrorIs(t, err, errs.ErrState)
}

func TestCompleteTransactionDirectCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	// 非托管支付：收款方直接到净额，付款方无余额变化
	assert.Equal(t, int64(95000), env.balanceOf(t, 2))
	assert.Equal(t, int64(0), env.balanceOf(t, 1))

	// 同事务开票
	invoice, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, txn.Amount, invoice.Amount)

	// 结算事件入发件箱
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventTransactionCompleted))
}

func TestCompleteTransactionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	// 重复完成：空操作，不报错，不二次入账
	again, err := env.txnSvc.CompleteTransaction(ctx, txn.TransactionNo, "prov-dup")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, again.Status)

	assert.Equal(t, int64(95000), env.balanceOf(t, 2))

	var invoiceCount int64
	require.NoError(t, env.db.Model(&model.Invoice{}).Count(&invoiceCount).Error)
	assert.Equal(t, int64(1), invoiceCount)

	assert.Equal(t, int64(1), env.countOutbox(t, model.EventTransactionCompleted))
}

func TestCompleteTransactionAfterFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-fail-complete",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	require.NoError(t, env.txnSvc.FailTransaction(ctx, txn.TransactionNo, "prov-x"))

	// FAILED 是终态，完成请求被拒绝
	_, err = env.txnSvc.CompleteTransaction(ctx, txn.TransactionNo, "prov-x")
	assert.ErrorIs(t, err, errs.ErrState)
	assert.Equal(t, int64(0), env.balanceOf(t, 2))
}

func TestFailTransactionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-fail-dup",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	require.NoError(t, env.txnSvc.FailTransaction(ctx, txn.TransactionNo, "prov-1"))
	require.NoError(t, env.txnSvc.FailTransaction(ctx, txn.TransactionNo, "prov-1"))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, got.Status)
}

func TestMarkProcessingIgnoresTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	// 乱序到达的 pending 事件不能把交易拉出终态
	require.NoError(t, env.txnSvc.MarkProcessing(ctx, txn.TransactionNo, "prov-late"))

	got, err := env.txnSvc.GetTransaction(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, got.Status)
}

func TestRefundTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)
	require.Equal(t, int64(95000), env.balanceOf(t, 2))

	refunded, err := env.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "协商退款")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusRefunded, refunded.Status)

	// 净额反向冲账：收款方扣净额，付款方入净额，服务费不退
	assert.Equal(t, int64(0), env.balanceOf(t, 2))
	assert.Equal(t, int64(95000), env.balanceOf(t, 1))

	// 重复退款是空操作
	again, err := env.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "重复请求")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusRefunded, again.Status)
	assert.Equal(t, int64(95000), env.balanceOf(t, 1))
}

func TestRefundTransactionPendingRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-refund-pending",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	_, err = env.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "手滑")
	assert.ErrorIs(t, err, errs.ErrState)
}

func TestRefundTransactionEscrowRedirect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, escrow := env.createFundedEscrow(t, 1, 2, 100000)

	// 资金在托管账户里，直接退款被拒绝并指向托管退款
	_, err := env.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "想退钱")
	require.ErrorIs(t, err, errs.ErrState)
	assert.Contains(t, err.Error(), escrow.EscrowNo)
}

func TestListUserTransactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createCompletedPayment(t, 1, 2, 10000)
	env.createCompletedPayment(t, 2, 3, 20000)
	env.createCompletedPayment(t, 3, 4, 30000)

	// 用户2既是收款方又是付款方
	txns, total, err := env.txnSvc.ListUserTransactions(ctx, 2, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, txns, 2)
}
