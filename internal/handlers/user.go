package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rewards-ledger/internal/auth"
	"rewards-ledger/internal/services"
)

const tokenTTL = 24 * time.Hour

// UserHandler handles registration, profile and wallet reads
type UserHandler struct {
	users   *services.UserService
	ledger  *services.LedgerService
	accrual *services.AccrualService
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(svc *services.Services) *UserHandler {
	return &UserHandler{
		users:   svc.Users,
		ledger:  svc.Ledger,
		accrual: svc.Accrual,
	}
}

// Register creates an account and returns a bearer token for it
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Username     string `json:"username" binding:"required,max=150"`
		ReferralCode string `json:"referral_code" binding:"omitempty,max=16"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.ReferralCode)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.IsAdmin, tokenTTL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    user,
		"token":   token,
	})
}

// GetProfile returns the current user's profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    user,
	})
}

// GetWallet returns the cached balances next to the income recomputed from the ledger
func (h *UserHandler) GetWallet(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	wallet, err := h.ledger.WalletForUser(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	ledgerIncome, err := h.ledger.RecomputeIncomeForWallet(ctx, wallet.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"data":          wallet,
		"ledger_income": ledgerIncome,
	})
}

// GetHistory pages through the ledger, newest first
func (h *UserHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	entries, err := h.ledger.History(c.Request.Context(), userID, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}

// GetEarningsStatus reports posted versus due accrual days
func (h *UserHandler) GetEarningsStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	status, err := h.accrual.UserStatus(c.Request.Context(), time.Now(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     status,
		"accruing": status != nil,
	})
}
