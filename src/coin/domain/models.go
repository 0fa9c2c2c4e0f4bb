package domain

import (
	"github.com/shopspring/decimal"
)

type CoinMode string

const (
	// ModeAddress identifies deposits by destination address (+ vout).
	ModeAddress CoinMode = "address"
	// ModeAccount identifies deposits by our receiving account + memo.
	ModeAccount CoinMode = "account"
)

// Coin is one currency or token the gateway can receive or pay out.
// Immutable once a deposit references it.
type Coin struct {
	Symbol      string          `json:"symbol"`
	DisplayName string          `json:"display_name"`
	Handler     string          `json:"handler"`
	Mode        CoinMode        `json:"mode"`
	OurAccount  string          `json:"our_account,omitempty"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
	CanIssue    bool            `json:"can_issue"`
	Enabled     bool            `json:"enabled"`
	// ContractAddress is set for token coins living on a contract chain.
	ContractAddress string `json:"contract_address,omitempty"`
}

// CoinPair is an allowed conversion direction, e.g. LTC -> SGTK.
// Either Rate (fixed) or RateSource (resolved fresh at conversion time)
// is set, never both.
type CoinPair struct {
	FromCoin   string          `json:"from_coin"`
	ToCoin     string          `json:"to_coin"`
	Rate       decimal.Decimal `json:"rate"`
	RateSource string          `json:"rate_source,omitempty"`
	FeePercent decimal.Decimal `json:"fee_percent"`
}

// Fixed reports whether the pair uses a stored rate rather than a source.
func (p *CoinPair) Fixed() bool {
	return p.RateSource == ""
}

// DepositRoute maps an address-based deposit (no memo to route by) onto the
// destination it converts into.
type DepositRoute struct {
	Coin               string `json:"coin"`
	Address            string `json:"address"`
	Memo               string `json:"memo,omitempty"`
	DestinationCoin    string `json:"destination_coin"`
	DestinationAddress string `json:"destination_address"`
	DestinationMemo    string `json:"destination_memo,omitempty"`
}
