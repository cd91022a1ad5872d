package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowpay/internal/config"
	"escrowpay/internal/model"
	"escrowpay/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *MercadoPagoGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewMercadoPagoGateway(config.ProviderConfig{
		BaseURL:     server.URL,
		AccessToken: "test-token",
	})
}

func TestSubmitCreatesPreference(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req preferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "TXN-123", req.ExternalReference)
		require.Len(t, req.Items, 1)
		assert.Equal(t, 1000.0, req.Items[0].UnitPrice) // 100000分 = 1000.00

		json.NewEncoder(w).Encode(preferenceResponse{
			ID:        "pref-abc",
			InitPoint: "https://mp.example.com/checkout/pref-abc",
		})
	})

	intent, err := gw.Submit(context.Background(), &model.Transaction{
		TransactionNo: "TXN-123",
		Amount:        100000,
		Currency:      "CNY",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-abc", intent.PreferenceID)
	assert.Equal(t, "https://mp.example.com/checkout/pref-abc", intent.RedirectURL)
}

func TestFetchPaymentStatus(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/10001", r.URL.Path)

		// 渠道返回数字ID和元为单位的金额
		w.Write([]byte(`{
			"id": 10001,
			"external_reference": "TXN-123",
			"status": "approved",
			"transaction_amount": 1000.00,
			"currency_id": "CNY"
		}`))
	})

	status, err := gw.Fetch(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, "10001", status.ProviderPaymentID)
	assert.Equal(t, "TXN-123", status.ExternalReference)
	assert.Equal(t, ProviderStatusApproved, status.Status)
	assert.Equal(t, int64(100000), status.Amount) // 元转分
	assert.Equal(t, "CNY", status.Currency)
}

func TestFetchAmountRounding(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		// 浮点表示误差不能污染分金额
		w.Write([]byte(`{"id": 1, "status": "approved", "transaction_amount": 19.99}`))
	})

	status, err := gw.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), status.Amount)
}

func TestProviderErrorsWrapped(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"payment not found"}`))
	})

	_, err := gw.Fetch(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProvider)

	_, err = gw.Submit(context.Background(), &model.Transaction{TransactionNo: "TXN-X", Amount: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProvider)
}
