package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"escrowpay/internal/model"
	"escrowpay/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceGeneratedOnCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	invoice, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	require.NotNil(t, invoice)

	year := time.Now().Year()
	assert.Equal(t, fmt.Sprintf("INV-%d-%06d", year, 1), invoice.InvoiceNo)
	assert.Equal(t, int64(100000), invoice.Amount)
	assert.Equal(t, int64(5000), invoice.PlatformFee)
	assert.Equal(t, int64(95000), invoice.NetAmount)

	// 明细行拆分与交易一致
	var items []invoiceItem
	require.NoError(t, json.Unmarshal([]byte(invoice.Items), &items))
	require.Len(t, items, 2)
	assert.Equal(t, invoice.NetAmount, items[0].Amount)
	assert.Equal(t, invoice.PlatformFee, items[1].Amount)
}

func TestInvoiceNumbersSequential(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	year := time.Now().Year()
	for i := 1; i <= 3; i++ {
		txn := env.createCompletedPayment(t, 1, int64(i+10), 10000)
		invoice, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
		require.NoError(t, err)
		require.NotNil(t, invoice)
		assert.Equal(t, fmt.Sprintf("INV-%d-%06d", year, i), invoice.InvoiceNo)
	}
}

func TestGenerateInvoiceIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	first, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 显式重复开票返回既有发票，编号不递增
	again, err := env.invoiceSvc.GenerateInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceNo, again.InvoiceNo)

	var count int64
	require.NoError(t, env.db.Model(&model.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGenerateInvoiceRequiresCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, err := env.txnSvc.CreateTransaction(ctx, &CreateTransactionRequest{
		RequestID: "req-invoice-pending",
		PayerID:   1,
		PayeeID:   2,
		Amount:    100000,
		Type:      model.TransactionTypePayment,
	})
	require.NoError(t, err)

	_, err = env.invoiceSvc.GenerateInvoice(ctx, txn.TransactionNo)
	assert.ErrorIs(t, err, errs.ErrState)

	// 未开票的交易查询返回 nil
	invoice, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	assert.Nil(t, invoice)
}

func TestInvoiceSurvivesRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn := env.createCompletedPayment(t, 1, 2, 100000)

	_, err := env.txnSvc.RefundTransaction(ctx, txn.TransactionNo, "协商退款")
	require.NoError(t, err)

	// 退款不吊销发票
	invoice, err := env.invoiceSvc.GetInvoice(ctx, txn.TransactionNo)
	require.NoError(t, err)
	require.NotNil(t, invoice)
}
