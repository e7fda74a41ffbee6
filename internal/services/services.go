package services

import (
	"time"

	"rewards-ledger/internal/config"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services bundles the wired service graph shared by the server and the CLI.
type Services struct {
	Ledger      *LedgerService
	Guard       *JobGuard
	Accrual     *AccrualService
	Referrals   *ReferralService
	Deposits    *DepositService
	Withdrawals *WithdrawalService
	Pool        *GlobalPoolService
	Users       *UserService
	Integrity   *IntegrityService
}

// New wires every service against one database handle.
func New(db *gorm.DB, econ *config.Economics, leaseTTL time.Duration, log *logrus.Entry) *Services {
	ledger := NewLedgerService(db)
	guard := NewJobGuard(db, leaseTTL, log)
	referrals := NewReferralService(db, ledger, econ, log)
	deposits := NewDepositService(db, ledger, referrals, econ, log)

	return &Services{
		Ledger:      ledger,
		Guard:       guard,
		Accrual:     NewAccrualService(db, ledger, guard, econ, log),
		Referrals:   referrals,
		Deposits:    deposits,
		Withdrawals: NewWithdrawalService(db, ledger, econ, log),
		Pool:        NewGlobalPoolService(db, ledger, guard, econ, log),
		Users:       NewUserService(db, deposits, referrals, log),
		Integrity:   NewIntegrityService(db, log),
	}
}
