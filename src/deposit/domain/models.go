package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	// StatusNew is a freshly ingested deposit nobody has touched.
	StatusNew DepositStatus = "NEW"
	// StatusProcessing is claimed by a conversion worker.
	StatusProcessing DepositStatus = "PROCESSING"
	// StatusConverted is terminal: the payout left our side.
	StatusConverted DepositStatus = "CONVERTED"
	// StatusInvalid is terminal: no retry can ever succeed.
	StatusInvalid DepositStatus = "INVALID"
	// StatusErrored failed on something transient and is retried later.
	StatusErrored DepositStatus = "ERRORED"
)

// Terminal reports whether the status can never change again.
func (s DepositStatus) Terminal() bool {
	return s == StatusConverted || s == StatusInvalid
}

// Deposit is one observed incoming transaction. Identity fields (coin, txid,
// vout, memo) are immutable after insert; only the conversion pipeline moves
// Status afterwards.
type Deposit struct {
	ID          uint
	Coin        string
	TxID        string
	Vout        int
	Address     string
	FromAccount string
	ToAccount   string
	Memo        string
	Amount      decimal.Decimal
	TxTimestamp time.Time

	Status      DepositStatus
	ErrorReason string
	LastAttempt *time.Time
	ProcessedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversion records a completed payout, one to one with a CONVERTED deposit.
type Conversion struct {
	ID          uint
	DepositID   uint
	FromCoin    string
	ToCoin      string
	FromAddress string
	ToAddress   string
	ToMemo      string
	// AmountSent is the net payout after the exchange fee and network fee.
	AmountSent  decimal.Decimal
	ExchangeFee decimal.Decimal
	NetworkFee  decimal.Decimal
	// TxID of the outgoing transaction, empty when the backend confirms
	// asynchronously.
	TxID      string
	CreatedAt time.Time
}
