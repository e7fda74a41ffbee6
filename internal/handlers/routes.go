package handlers

import (
	"github.com/gin-gonic/gin"

	"rewards-ledger/internal/auth"
	"rewards-ledger/internal/services"
)

// RegisterRoutes mounts the public, user and admin API on router.
func RegisterRoutes(router gin.IRouter, svc *services.Services) {
	userHandler := NewUserHandler(svc)
	fundingHandler := NewFundingHandler(svc)
	referralHandler := NewReferralHandler(svc)
	adminHandler := NewAdminHandler(svc)

	router.POST("/auth/register", userHandler.Register)

	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.GET("/user/profile", userHandler.GetProfile)
		api.GET("/wallet", userHandler.GetWallet)
		api.GET("/wallet/history", userHandler.GetHistory)
		api.GET("/earnings/status", userHandler.GetEarningsStatus)

		api.POST("/deposits", fundingHandler.CreateDeposit)
		api.GET("/deposits", fundingHandler.ListDeposits)
		api.POST("/withdrawals", fundingHandler.CreateWithdrawal)
		api.GET("/withdrawals", fundingHandler.ListWithdrawals)

		api.GET("/referral/code", referralHandler.GetReferralCode)
		api.GET("/referral/stats", referralHandler.GetReferralStats)
		api.GET("/referral/referrals", referralHandler.GetReferrals)
		api.GET("/referral/payouts", referralHandler.GetPayouts)
	}

	admin := router.Group("/api/admin")
	admin.Use(auth.AuthMiddleware(), auth.AdminOnly())
	{
		admin.GET("/users/pending", adminHandler.ListPendingUsers)
		admin.POST("/users/:id/approve", adminHandler.ApproveUser)

		admin.GET("/deposits", adminHandler.ListDeposits)
		admin.POST("/deposits/:id/approve", adminHandler.ApproveDeposit)
		admin.POST("/deposits/:id/credit", adminHandler.CreditDeposit)
		admin.POST("/deposits/:id/reject", adminHandler.RejectDeposit)

		admin.GET("/withdrawals", adminHandler.ListWithdrawals)
		admin.POST("/withdrawals/:id/approve", adminHandler.ApproveWithdrawal)
		admin.POST("/withdrawals/:id/paid", adminHandler.MarkWithdrawalPaid)
		admin.POST("/withdrawals/:id/reject", adminHandler.RejectWithdrawal)

		admin.POST("/jobs/accrual", adminHandler.RunAccrual)
		admin.GET("/jobs/accrual/status", adminHandler.AccrualStatus)
		admin.POST("/jobs/global-pool", adminHandler.RunGlobalPool)
		admin.GET("/job-states/:name", adminHandler.GetJobState)
		admin.GET("/pool", adminHandler.GetPoolState)
		admin.POST("/integrity/audit", adminHandler.AuditWallets)
	}
}
