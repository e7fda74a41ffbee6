package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/services"
)

// AdminHandler exposes approvals, payment review and manual job runs.
type AdminHandler struct {
	svc *services.Services
	now func() time.Time
}

func NewAdminHandler(svc *services.Services) *AdminHandler {
	return &AdminHandler{svc: svc, now: time.Now}
}

func (h *AdminHandler) ListPendingUsers(c *gin.Context) {
	users, err := h.svc.Users.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": users, "count": len(users)})
}

// ApproveUser approves a user and pays the up-line. Repeating it pays nothing.
func (h *AdminHandler) ApproveUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	result, err := h.svc.Users.ApproveUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *AdminHandler) ListDeposits(c *gin.Context) {
	status := models.DepositStatus(strings.ToUpper(c.DefaultQuery("status", string(models.DepositPending))))
	deposits, err := h.svc.Deposits.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": deposits, "count": len(deposits)})
}

func (h *AdminHandler) ApproveDeposit(c *gin.Context) {
	h.depositAction(c, func(id uint) (*models.DepositRequest, error) {
		return h.svc.Deposits.Approve(c.Request.Context(), id)
	})
}

// CreditDeposit posts the deposit to the wallet.
func (h *AdminHandler) CreditDeposit(c *gin.Context) {
	h.depositAction(c, func(id uint) (*models.DepositRequest, error) {
		return h.svc.Deposits.Credit(c.Request.Context(), id)
	})
}

func (h *AdminHandler) RejectDeposit(c *gin.Context) {
	var req struct {
		Note string `json:"note" binding:"max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.depositAction(c, func(id uint) (*models.DepositRequest, error) {
		return h.svc.Deposits.Reject(c.Request.Context(), id, req.Note)
	})
}

func (h *AdminHandler) depositAction(c *gin.Context, action func(id uint) (*models.DepositRequest, error)) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	deposit, err := action(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": deposit})
}

func (h *AdminHandler) ListWithdrawals(c *gin.Context) {
	status := models.WithdrawalStatus(strings.ToUpper(c.DefaultQuery("status", string(models.WithdrawalPending))))
	requests, err := h.svc.Withdrawals.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": requests, "count": len(requests)})
}

func (h *AdminHandler) ApproveWithdrawal(c *gin.Context) {
	h.withdrawalAction(c, func(id uint) (*models.WithdrawalRequest, error) {
		return h.svc.Withdrawals.Approve(c.Request.Context(), id)
	})
}

// MarkWithdrawalPaid records the external payment reference.
func (h *AdminHandler) MarkWithdrawalPaid(c *gin.Context) {
	var req struct {
		TxID string `json:"tx_id" binding:"required,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withdrawalAction(c, func(id uint) (*models.WithdrawalRequest, error) {
		return h.svc.Withdrawals.MarkPaid(c.Request.Context(), id, req.TxID)
	})
}

// RejectWithdrawal refunds the reserved amount.
func (h *AdminHandler) RejectWithdrawal(c *gin.Context) {
	h.withdrawalAction(c, func(id uint) (*models.WithdrawalRequest, error) {
		return h.svc.Withdrawals.Reject(c.Request.Context(), id)
	})
}

func (h *AdminHandler) withdrawalAction(c *gin.Context, action func(id uint) (*models.WithdrawalRequest, error)) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	request, err := action(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": request})
}

// RunAccrual triggers a tick by hand. Backfill implies force.
func (h *AdminHandler) RunAccrual(c *gin.Context) {
	var req struct {
		Force    bool `json:"force"`
		Backfill bool `json:"backfill"`
		DryRun   bool `json:"dry_run"`
		UserID   uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.svc.Accrual.RunAccrualTick(c.Request.Context(), h.now(), services.AccrualOptions{
		Backfill: req.Backfill,
		Force:    req.Force || req.Backfill,
		DryRun:   req.DryRun,
		UserID:   req.UserID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
}

func (h *AdminHandler) AccrualStatus(c *gin.Context) {
	status, err := h.svc.Accrual.Status(c.Request.Context(), h.now())
	if err != nil {
		respondError(c, err)
		return
	}
	behind := 0
	for _, s := range status {
		if s.Behind > 0 {
			behind++
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status, "behind": behind})
}

// RunGlobalPool processes the current week's pool.
func (h *AdminHandler) RunGlobalPool(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.svc.Pool.Run(c.Request.Context(), h.now(), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
}

func (h *AdminHandler) GetPoolState(c *gin.Context) {
	state, err := h.svc.Pool.State(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": state})
}

func (h *AdminHandler) GetJobState(c *gin.Context) {
	state, err := h.svc.Guard.State(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": state})
}

// AuditWallets compares cached balances with the ledger; ?repair=true syncs them.
func (h *AdminHandler) AuditWallets(c *gin.Context) {
	report, err := h.svc.Integrity.Audit(c.Request.Context(), c.Query("repair") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}
