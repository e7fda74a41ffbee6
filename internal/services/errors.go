package services

import (
	"errors"

	"rewards-ledger/internal/economics"
)

var (
	// ErrInvalidConfig marks a financial configuration that cannot produce a correct amount.
	ErrInvalidConfig = economics.ErrInvalidRate
	// ErrNotEligible means a prerequisite (wallet, deposit, elapsed day) is missing. Callers skip.
	ErrNotEligible = errors.New("not eligible yet")
	// ErrJobBusy means another worker holds the job marker.
	ErrJobBusy = errors.New("job is already running")
	// ErrAlreadyProcessed means the job already ran for the requested date.
	ErrAlreadyProcessed  = errors.New("already processed for this date")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
)
