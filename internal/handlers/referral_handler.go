package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rewards-ledger/internal/services"
)

type ReferralHandler struct {
	referrals *services.ReferralService
	users     *services.UserService
}

func NewReferralHandler(svc *services.Services) *ReferralHandler {
	return &ReferralHandler{
		referrals: svc.Referrals,
		users:     svc.Users,
	}
}

// GetReferralCode returns user's referral code, assigning one if needed
func (h *ReferralHandler) GetReferralCode(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	code, err := h.referrals.EnsureReferralCode(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    code,
	})
}

// GetReferralStats returns referral statistics for a user
func (h *ReferralHandler) GetReferralStats(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	stats, err := h.referrals.GetReferralStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// GetReferrals returns the user's direct referrals
func (h *ReferralHandler) GetReferrals(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	referrals, err := h.users.GetDirectReferrals(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    referrals,
		"count":   len(referrals),
	})
}

// GetPayouts returns commissions earned from the down-line
func (h *ReferralHandler) GetPayouts(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	payouts, err := h.referrals.GetPayouts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    payouts,
		"count":   len(payouts),
	})
}
