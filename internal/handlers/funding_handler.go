package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rewards-ledger/internal/models"
	"rewards-ledger/internal/services"
)

// FundingHandler serves the user side of deposits and withdrawals.
type FundingHandler struct {
	deposits    *services.DepositService
	withdrawals *services.WithdrawalService
}

func NewFundingHandler(svc *services.Services) *FundingHandler {
	return &FundingHandler{
		deposits:    svc.Deposits,
		withdrawals: svc.Withdrawals,
	}
}

// CreateDeposit records a PKR payment for admin review
func (h *FundingHandler) CreateDeposit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		AmountPKR string `json:"amount_pkr" binding:"required"`
		TxID      string `json:"tx_id" binding:"required,max=64"`
		ProofRef  string `json:"proof_ref" binding:"omitempty,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.AmountPKR)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount_pkr"})
		return
	}

	deposit, err := h.deposits.CreateDeposit(c.Request.Context(), userID, amount, req.TxID, req.ProofRef)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    deposit,
	})
}

func (h *FundingHandler) ListDeposits(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	deposits, err := h.deposits.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    deposits,
		"count":   len(deposits),
	})
}

// CreateWithdrawal reserves funds and opens a payout request
func (h *FundingHandler) CreateWithdrawal(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		AmountUSD  string `json:"amount_usd" binding:"required"`
		Source     string `json:"source" binding:"omitempty,oneof=INCOME AVAILABLE"`
		Method     string `json:"method" binding:"required,max=40"`
		AccountRef string `json:"account_ref" binding:"required,max=120"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.AmountUSD)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount_usd"})
		return
	}

	request, err := h.withdrawals.Create(c.Request.Context(), userID, services.WithdrawalInput{
		AmountUSD:  amount,
		Source:     models.WithdrawalSource(req.Source),
		Method:     req.Method,
		AccountRef: req.AccountRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    request,
	})
}

func (h *FundingHandler) ListWithdrawals(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	requests, err := h.withdrawals.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    requests,
		"count":   len(requests),
	})
}
