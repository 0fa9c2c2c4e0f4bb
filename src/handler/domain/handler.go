package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Capability names reported by Provides. Wiring is done by interface
// assertion; Provides exists for logging and the registry's sanity checks.
const (
	CapLoader       = "loader"
	CapBatchLoader  = "batch_loader"
	CapManager      = "manager"
	CapBatchManager = "batch_manager"
)

// RawTx is one incoming transaction as observed by a loader, before any
// deduplication. Address-based chains fill Address and Vout; account-based
// ledgers fill FromAccount, ToAccount and Memo.
type RawTx struct {
	Coin        string
	TxID        string
	Vout        int
	Address     string
	FromAccount string
	ToAccount   string
	Memo        string
	Amount      decimal.Decimal
	Timestamp   time.Time
}

// Handler is the minimal contract every plugin instance satisfies. A single
// instance may additionally implement any subset of Loader, BatchLoader,
// Manager and BatchManager.
type Handler interface {
	Name() string
	// Coins this instance services, uppercase symbols.
	Coins() []string
	Provides() []string
}

// Loader observes incoming transactions for one coin at a time. It may return
// transactions it has reported before; the ingestion pipeline deduplicates.
type Loader interface {
	Handler
	LoadIncoming(ctx context.Context, coin string) ([]RawTx, error)
}

// BatchLoader fetches all serviced coins in one backend round trip.
type BatchLoader interface {
	Handler
	LoadIncomingBatch(ctx context.Context, coins []string) ([]RawTx, error)
}

type SendRequest struct {
	Coin        string
	FromAccount string
	Destination string
	Memo        string
	Amount      decimal.Decimal
	// Issue mints instead of transferring. Only valid for coins that can issue.
	Issue bool
}

// SendResult reports what actually left the backend. TxID may be empty when
// the backend confirms asynchronously.
type SendResult struct {
	TxID       string
	Coin       string
	Amount     decimal.Decimal
	NetworkFee decimal.Decimal
}

// Manager validates destinations and pays out.
type Manager interface {
	Handler
	ValidateDestination(ctx context.Context, coin, destination, memo string) error
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

type ValidateRequest struct {
	Coin        string
	Destination string
	Memo        string
}

// BatchManager amortizes destination validation over one backend round trip.
// Result i corresponds to request i; nil means valid. Behavior is otherwise
// identical to calling ValidateDestination per request.
type BatchManager interface {
	Manager
	ValidateDestinations(ctx context.Context, reqs []ValidateRequest) []error
}
