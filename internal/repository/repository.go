package repository

import (
	"context"
	"errors"
	"time"

	"rewards-ledger/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLockNotAvailable is returned when a NOWAIT row lock is held by another session.
var ErrLockNotAvailable = errors.New("row lock not available")

// pgLockNotAvailable is SQLSTATE lock_not_available.
const pgLockNotAvailable = "55P03"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to an open transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// DB exposes the underlying handle, for callers that open their own transaction.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// InsertIgnore creates value unless a unique constraint already holds an equal row.
// It reports whether a row was inserted.
func (r *Repository) InsertIgnore(ctx context.Context, value interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Ancestors walks the referred-by chain upward, nearest first, at most depth users.
func (r *Repository) Ancestors(ctx context.Context, userID uint, depth int) ([]models.User, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var chain []models.User
	seen := map[uint]bool{user.ID: true}
	next := user.ReferredByID
	for len(chain) < depth && next != nil {
		if seen[*next] {
			break
		}
		parent, err := r.GetUser(ctx, *next)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		chain = append(chain, *parent)
		next = parent.ReferredByID
	}
	return chain, nil
}

// GetWallet retrieves a wallet without creating it.
func (r *Repository) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// LockWallet creates the wallet if missing and reads it under a row lock.
// Must be called inside a transaction.
func (r *Repository) LockWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	seed := models.Wallet{
		UserID:    userID,
		Available: decimal.Zero,
		Hold:      decimal.Zero,
		Income:    decimal.Zero,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var wallet models.Wallet
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// SaveWalletBalances writes the three cached balances.
func (r *Repository) SaveWalletBalances(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Model(wallet).Updates(map[string]interface{}{
		"available":  wallet.Available,
		"hold":       wallet.Hold,
		"income":     wallet.Income,
		"updated_at": time.Now(),
	}).Error
}

// ListWallets returns every wallet ordered by user.
func (r *Repository) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).Order("user_id ASC").Find(&wallets).Error
	return wallets, err
}

// InsertLedgerEntry appends an entry unless its idempotency key was already used.
func (r *Repository) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LedgerEntryExists checks for an idempotency key.
func (r *Repository) LedgerEntryExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

// ListLedgerEntries returns a wallet's entries oldest first.
func (r *Repository) ListLedgerEntries(ctx context.Context, walletID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// PageLedgerEntries returns a wallet's entries newest first.
func (r *Repository) PageLedgerEntries(ctx context.Context, walletID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// LockDeposit reads a deposit request under a row lock.
func (r *Repository) LockDeposit(ctx context.Context, depositID uint) (*models.DepositRequest, error) {
	var deposit models.DepositRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&deposit, depositID).Error
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// LockWithdrawal reads a withdrawal request under a row lock.
func (r *Repository) LockWithdrawal(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&request, id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// FirstRealDeposit is the earliest credited non-signup deposit, or nil.
func (r *Repository) FirstRealDeposit(ctx context.Context, userID uint) (*models.DepositRequest, error) {
	var deposit models.DepositRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND tx_id <> ? AND processed_at IS NOT NULL",
			userID, models.DepositCredited, models.SignupTxID).
		Order("processed_at ASC, id ASC").
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// SignupDeposit returns the user's signup deposit in any status, or nil.
func (r *Repository) SignupDeposit(ctx context.Context, userID uint) (*models.DepositRequest, error) {
	var deposit models.DepositRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tx_id = ?", userID, models.SignupTxID).
		Order("id ASC").
		First(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

// CountCreditedRealDeposits counts credited non-signup deposits for a user.
func (r *Repository) CountCreditedRealDeposits(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DepositRequest{}).
		Where("user_id = ? AND status = ? AND tx_id <> ?", userID, models.DepositCredited, models.SignupTxID).
		Count(&count).Error
	return count, err
}

// SignupDepositsCreditedBetween lists credited signup deposits processed in [from, to).
func (r *Repository) SignupDepositsCreditedBetween(ctx context.Context, from, to time.Time) ([]models.DepositRequest, error) {
	var deposits []models.DepositRequest
	err := r.db.WithContext(ctx).
		Where("tx_id = ? AND status = ? AND processed_at >= ? AND processed_at < ?",
			models.SignupTxID, models.DepositCredited, from, to).
		Order("id ASC").
		Find(&deposits).Error
	return deposits, err
}

// AccrualCandidates lists approved users holding a credited real deposit.
func (r *Repository) AccrualCandidates(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.DepositRequest{}).
		Distinct("deposit_requests.user_id").
		Joins("JOIN users ON users.id = deposit_requests.user_id").
		Where("users.is_approved = ? AND deposit_requests.status = ? AND deposit_requests.tx_id <> ?",
			true, models.DepositCredited, models.SignupTxID).
		Order("deposit_requests.user_id ASC").
		Pluck("deposit_requests.user_id", &ids).Error
	return ids, err
}

// ApprovedWalletHolders lists approved users that own a wallet.
func (r *Repository) ApprovedWalletHolders(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Joins("JOIN users ON users.id = wallets.user_id").
		Where("users.is_approved = ?", true).
		Order("wallets.user_id ASC").
		Pluck("wallets.user_id", &ids).Error
	return ids, err
}

// LastPassiveDay returns the highest posted day index, 0 when none.
func (r *Repository) LastPassiveDay(ctx context.Context, userID uint) (int, error) {
	var last models.PassiveEarning
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("day_index DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.DayIndex, nil
}

// CountReferralPayouts counts commissions already recorded for a referee.
func (r *Repository) CountReferralPayouts(ctx context.Context, refereeID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ReferralPayout{}).
		Where("referee_id = ?", refereeID).
		Count(&count).Error
	return count, err
}

// LockMilestoneProgress creates the referrer's progress row if missing and locks it.
func (r *Repository) LockMilestoneProgress(ctx context.Context, referrerID uint) (*models.ReferralMilestoneProgress, error) {
	seed := models.ReferralMilestoneProgress{
		ReferrerID: referrerID,
		SumUSD:     decimal.Zero,
		CountedIDs: models.IDSet{},
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referrer_id"}},
		DoNothing: true,
	}).Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var progress models.ReferralMilestoneProgress
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("referrer_id = ?", referrerID).
		First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// LockPoolState reads the singleton pool row under a row lock.
func (r *Repository) LockPoolState(ctx context.Context) (*models.GlobalPoolState, error) {
	var state models.GlobalPoolState
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&state, models.GlobalPoolStateID).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ClaimJobState reads a job marker with FOR UPDATE NOWAIT. A competing holder
// yields ErrLockNotAvailable instead of blocking.
func (r *Repository) ClaimJobState(ctx context.Context, name string) (*models.JobState, error) {
	var state models.JobState
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("name = ?", name).
		First(&state).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrLockNotAvailable
		}
		return nil, err
	}
	return &state, nil
}

// GetJobState reads a job marker without locking.
func (r *Repository) GetJobState(ctx context.Context, name string) (*models.JobState, error) {
	var state models.JobState
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}
