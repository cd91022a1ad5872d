package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/model"
	"escrowpay/pkg/errs"
)

// MercadoPagoGateway MercadoPago 渠道实现
//
// 创建 checkout preference 拿跳转链接，按支付单ID回查权威状态。
// 凭证和 HTTP 细节全部封装在这里。
type MercadoPagoGateway struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewMercadoPagoGateway(cfg config.ProviderConfig) *MercadoPagoGateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &MercadoPagoGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *MercadoPagoGateway) Name() string {
	return "mercadopago"
}

type preferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	Items             []preferenceItem `json:"items"`
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// Submit 创建支付意图
//
// external_reference 带上我方交易单号，webhook 回查时据此关联。
func (g *MercadoPagoGateway) Submit(ctx context.Context, txn *model.Transaction) (*PaymentIntent, error) {
	reqBody := preferenceRequest{
		ExternalReference: txn.TransactionNo,
		Items: []preferenceItem{
			{
				Title:      fmt.Sprintf("项目款项 %s", txn.TransactionNo),
				Quantity:   1,
				UnitPrice:  float64(txn.Amount) / 100,
				CurrencyID: txn.Currency,
			},
		},
	}

	var resp preferenceResponse
	if err := g.post(ctx, "/checkout/preferences", &reqBody, &resp); err != nil {
		return nil, err
	}

	return &PaymentIntent{
		PreferenceID: resp.ID,
		RedirectURL:  resp.InitPoint,
	}, nil
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	ExternalReference string      `json:"external_reference"`
	Status            string      `json:"status"`
	TransactionAmount float64     `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
}

// Fetch 回查支付单的权威状态
func (g *MercadoPagoGateway) Fetch(ctx context.Context, providerPaymentID string) (*PaymentStatus, error) {
	var resp paymentResponse
	if err := g.get(ctx, "/v1/payments/"+providerPaymentID, &resp); err != nil {
		return nil, err
	}

	return &PaymentStatus{
		ProviderPaymentID: resp.ID.String(),
		ExternalReference: resp.ExternalReference,
		Status:            resp.Status,
		Amount:            int64(math.Round(resp.TransactionAmount * 100)),
		Currency:          resp.CurrencyID,
	}, nil
}

func (g *MercadoPagoGateway) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *MercadoPagoGateway) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *MercadoPagoGateway) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+g.cfg.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrProvider, "请求渠道失败: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrProvider, "读取渠道响应失败: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Wrap(errs.ErrProvider, "渠道返回非成功状态: code=%d body=%s", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.ErrProvider, "解析渠道响应失败: %v", err)
	}
	return nil
}
