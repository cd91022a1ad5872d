package handler

import (
	"strconv"

	"escrowpay/internal/config"
	"escrowpay/internal/gateway"
	"escrowpay/internal/service"
	"escrowpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler HTTP 处理器
type Handler struct {
	txnSvc        *service.TransactionService
	escrowSvc     *service.EscrowService
	balanceSvc    *service.BalanceService
	withdrawalSvc *service.WithdrawalService
	invoiceSvc    *service.InvoiceService
	webhookSvc    *service.WebhookService
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.Gateway) *Handler {
	txnSvc := service.NewTransactionService(db, rdb, cfg, gw)
	return &Handler{
		txnSvc:        txnSvc,
		escrowSvc:     service.NewEscrowService(db, rdb, cfg),
		balanceSvc:    service.NewBalanceService(db),
		withdrawalSvc: service.NewWithdrawalService(db, rdb, cfg),
		invoiceSvc:    service.NewInvoiceService(db),
		webhookSvc:    service.NewWebhookService(gw, txnSvc),
	}
}

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// actorFromHeader 从请求头解析操作人
//
// 网关层已完成认证，这里只取透传的身份信息。
func actorFromHeader(c *gin.Context) service.Actor {
	id, _ := strconv.ParseInt(c.GetHeader(headerUserID), 10, 64)
	role := c.GetHeader(headerUserRole)
	if role == "" {
		role = service.RoleClient
	}
	return service.Actor{ID: id, Role: role}
}

// CreateTransaction 创建交易
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req service.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	txn, err := h.txnSvc.CreateTransaction(c.Request.Context(), &req)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, txn)
}

// ProcessPayment 提交交易到支付渠道
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req struct {
		TransactionNo string `json:"transaction_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	txn, err := h.txnSvc.ProcessPayment(c.Request.Context(), req.TransactionNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{
		"transaction_no": txn.TransactionNo,
		"status":         txn.Status,
		"redirect_url":   txn.RedirectURL,
	})
}

// GetTransaction 查询交易详情
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionNo := c.Query("transaction_no")
	if transactionNo == "" {
		response.ParamError(c, "transaction_no 不能为空")
		return
	}

	txn, err := h.txnSvc.GetTransaction(c.Request.Context(), transactionNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, txn)
}

// ListTransactions 查询用户交易列表
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	txns, total, err := h.txnSvc.ListUserTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":  txns,
		"total": total,
		"page":  page,
	})
}

// RefundTransaction 直接交易退款
func (h *Handler) RefundTransaction(c *gin.Context) {
	var req struct {
		TransactionNo string `json:"transaction_no" binding:"required"`
		Reason        string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	txn, err := h.txnSvc.RefundTransaction(c.Request.Context(), req.TransactionNo, req.Reason)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, txn)
}

// CreateEscrow 创建托管账户
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req service.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowSvc.CreateEscrowAccount(c.Request.Context(), &req)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, escrow)
}

// ReleaseEscrow 手动放款
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	var req struct {
		EscrowNo string `json:"escrow_no" binding:"required"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "客户确认放款"
	}

	escrow, err := h.escrowSvc.ReleaseEscrow(c.Request.Context(), req.EscrowNo, actorFromHeader(c), req.Reason)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, escrow)
}

// RefundEscrow 托管退款
func (h *Handler) RefundEscrow(c *gin.Context) {
	var req struct {
		EscrowNo string `json:"escrow_no" binding:"required"`
		Reason   string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	escrow, err := h.escrowSvc.RefundEscrow(c.Request.Context(), req.EscrowNo, actorFromHeader(c), req.Reason)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, escrow)
}

// DisputeEscrow 发起托管争议
func (h *Handler) DisputeEscrow(c *gin.Context) {
	var req struct {
		EscrowNo string `json:"escrow_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.escrowSvc.MarkDisputed(c.Request.Context(), req.EscrowNo, actorFromHeader(c)); err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetEscrow 查询托管账户，附带托管流水
func (h *Handler) GetEscrow(c *gin.Context) {
	escrowNo := c.Query("escrow_no")
	if escrowNo == "" {
		response.ParamError(c, "escrow_no 不能为空")
		return
	}

	escrow, err := h.escrowSvc.GetEscrow(c.Request.Context(), escrowNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	entries, err := h.escrowSvc.ListLedgerEntries(c.Request.Context(), escrowNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, gin.H{
		"escrow": escrow,
		"ledger": entries,
	})
}

// GetBalance 查询用户余额
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	balance, err := h.balanceSvc.GetUserBalance(c.Request.Context(), userID)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, balance)
}

// ListFlows 查询用户资金流水
func (h *Handler) ListFlows(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	flows, err := h.balanceSvc.ListUserFlows(c.Request.Context(), userID, limit)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, flows)
}

// CreateWithdrawal 发起提现
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req service.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	withdrawal, err := h.withdrawalSvc.CreateWithdrawal(c.Request.Context(), &req)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, withdrawal)
}

// ListWithdrawals 查询用户提现记录
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	withdrawals, err := h.withdrawalSvc.ListUserWithdrawals(c.Request.Context(), userID, limit)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, withdrawals)
}

// GenerateInvoice 手动补开发票（正常情况下交易完成时已同事务开具）
func (h *Handler) GenerateInvoice(c *gin.Context) {
	var req struct {
		TransactionNo string `json:"transaction_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	invoice, err := h.invoiceSvc.GenerateInvoice(c.Request.Context(), req.TransactionNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	response.Success(c, invoice)
}

// GetInvoice 查询交易发票
func (h *Handler) GetInvoice(c *gin.Context) {
	transactionNo := c.Query("transaction_no")
	if transactionNo == "" {
		response.ParamError(c, "transaction_no 不能为空")
		return
	}

	invoice, err := h.invoiceSvc.GetInvoice(c.Request.Context(), transactionNo)
	if err != nil {
		response.BizError(c, err)
		return
	}
	if invoice == nil {
		response.Error(c, response.CodeNotFound, "交易尚未开票")
		return
	}
	response.Success(c, invoice)
}

// ProviderWebhook 支付渠道回调
//
// 无论处理结果如何都返回 200，渠道只要收到 2xx 就不再重发。
func (h *Handler) ProviderWebhook(c *gin.Context) {
	var event service.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		// 畸形报文也 ACK，重发没有意义
		c.JSON(200, gin.H{"status": "ignored"})
		return
	}

	_ = h.webhookSvc.HandleProviderWebhook(c.Request.Context(), &event)
	c.JSON(200, gin.H{"status": "ok"})
}
