package rates

import (
	"context"
	"fmt"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/shopspring/decimal"
)

// Source resolves the exchange rate for a dynamically priced pair.
type Source interface {
	Name() string
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Quote is the fully priced result of converting one deposit amount.
type Quote struct {
	Rate decimal.Decimal
	// Gross is amount * rate before any fee.
	Gross decimal.Decimal
	// ExchangeFee is the percentage cut taken from Gross.
	ExchangeFee decimal.Decimal
	// NetworkFee is the destination coin's estimated network fee.
	NetworkFee decimal.Decimal
	// Final is what actually gets sent: Gross - ExchangeFee - NetworkFee.
	Final decimal.Decimal
}

// ErrUnpayable marks quotes where fees eat the whole deposit. Not retryable:
// the same amount yields the same quote next run.
type ErrUnpayable struct {
	Final decimal.Decimal
}

func (e *ErrUnpayable) Error() string {
	return fmt.Sprintf("net payout %s is not positive", e.Final)
}

// Engine prices conversions. Pure computation apart from resolving dynamic
// rate sources, which are injected by name.
type Engine struct {
	sources map[string]Source
}

func NewEngine(sources ...Source) *Engine {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Name()] = s
	}
	return &Engine{sources: m}
}

// PairRate returns the pair's fixed rate, or resolves its source.
func (e *Engine) PairRate(ctx context.Context, pair *coindomain.CoinPair) (decimal.Decimal, error) {
	if pair.Fixed() {
		return pair.Rate, nil
	}
	src, ok := e.sources[pair.RateSource]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate source %q is not configured", pair.RateSource)
	}
	rate, err := src.Rate(ctx, pair.FromCoin, pair.ToCoin)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate source %q: %w", pair.RateSource, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate source %q returned non-positive rate %s", pair.RateSource, rate)
	}
	return rate, nil
}

// QuoteDeposit prices amount of pair.FromCoin into pair.ToCoin:
//
//	gross = amount * rate
//	exchangeFee = gross * feePercent / 100
//	final = gross - exchangeFee - toCoin.NetworkFee
//
// Returns *ErrUnpayable when final is not positive.
func (e *Engine) QuoteDeposit(ctx context.Context, pair *coindomain.CoinPair, toCoin *coindomain.Coin, amount decimal.Decimal) (*Quote, error) {
	rate, err := e.PairRate(ctx, pair)
	if err != nil {
		return nil, err
	}

	gross := amount.Mul(rate)
	exFee := gross.Mul(pair.FeePercent).Div(decimal.NewFromInt(100))
	final := gross.Sub(exFee).Sub(toCoin.NetworkFee)

	q := &Quote{
		Rate:        rate,
		Gross:       gross,
		ExchangeFee: exFee,
		NetworkFee:  toCoin.NetworkFee,
		Final:       final,
	}
	if !final.IsPositive() {
		return q, &ErrUnpayable{Final: final}
	}
	return q, nil
}
