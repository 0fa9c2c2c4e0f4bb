package domain

import (
	"context"
	"time"
)

// DepositRepository is the ledger both pipelines hang off. Every status
// transition is compare-and-swap on the expected current status so concurrent
// runs and stale claims cannot double-convert a deposit.
type DepositRepository interface {
	// InsertIfNew conditionally inserts by dedup key (coin, txid, vout, memo).
	// Returns true when the row was created, false when it already existed.
	InsertIfNew(ctx context.Context, d *Deposit) (bool, error)

	// Claim flips the deposit from the expected status to PROCESSING and
	// stamps the attempt time. Returns false when somebody else won.
	Claim(ctx context.Context, id uint, expected DepositStatus, at time.Time) (bool, error)

	// Finish flips PROCESSING into a terminal or retryable status, with the
	// reason for INVALID/ERRORED. Returns false when the row was not in
	// PROCESSING anymore.
	Finish(ctx context.Context, id uint, to DepositStatus, reason string, at time.Time) (bool, error)

	// GetConvertible returns up to limit deposits in NEW or ERRORED, oldest
	// first.
	GetConvertible(ctx context.Context, limit int) ([]Deposit, error)

	// ReclaimStale flips PROCESSING rows whose attempt predates cutoff back to
	// ERRORED and returns how many were reclaimed.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)

	GetByID(ctx context.Context, id uint) (*Deposit, error)
	GetByStatus(ctx context.Context, status DepositStatus, limit int) ([]Deposit, error)
}

type ConversionRepository interface {
	SaveConversion(ctx context.Context, c *Conversion) error
	GetConversionByDepositID(ctx context.Context, depositID uint) (*Conversion, error)
}
