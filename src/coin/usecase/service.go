package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/config"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
)

var _ domain.ReferenceBook = (*Book)(nil)

// Book is the validated, in-memory reference data built from configuration.
// Malformed coins/pairs/routes are configuration errors and abort startup
// before either pipeline touches a deposit.
type Book struct {
	log       *logger.Logger
	coins     map[string]domain.Coin
	pairs     map[string]domain.CoinPair
	pairsFrom map[string][]domain.CoinPair
	routes    map[string]domain.DepositRoute
}

func NewBook(cfg *config.Config, logg *logger.Logger) (*Book, error) {
	defaultFee, err := decimal.NewFromString(cfg.DefaultFeePercent)
	if err != nil {
		return nil, fmt.Errorf("default_fee_percent %q: %w", cfg.DefaultFeePercent, err)
	}
	if defaultFee.IsNegative() {
		return nil, fmt.Errorf("default_fee_percent must not be negative, got %s", defaultFee)
	}

	b := &Book{
		log:       logg,
		coins:     map[string]domain.Coin{},
		pairs:     map[string]domain.CoinPair{},
		pairsFrom: map[string][]domain.CoinPair{},
		routes:    map[string]domain.DepositRoute{},
	}

	for _, cc := range cfg.Coins {
		c, err := coinFromConfig(cc)
		if err != nil {
			return nil, err
		}
		if _, dup := b.coins[c.Symbol]; dup {
			return nil, fmt.Errorf("coin %s is configured twice", c.Symbol)
		}
		b.coins[c.Symbol] = *c
	}

	sources := map[string]bool{}
	for _, rs := range cfg.RateSources {
		sources[rs.Name] = true
	}

	for _, pc := range cfg.Pairs {
		p, err := b.pairFromConfig(pc, defaultFee, sources)
		if err != nil {
			return nil, err
		}
		key := pairKey(p.FromCoin, p.ToCoin)
		if _, dup := b.pairs[key]; dup {
			return nil, fmt.Errorf("pair %s -> %s is configured twice", p.FromCoin, p.ToCoin)
		}
		b.pairs[key] = *p
		b.pairsFrom[p.FromCoin] = append(b.pairsFrom[p.FromCoin], *p)
	}

	for _, rc := range cfg.Routes {
		r, err := b.routeFromConfig(rc)
		if err != nil {
			return nil, err
		}
		key := routeKey(r.Coin, r.Address, r.Memo)
		if _, dup := b.routes[key]; dup {
			return nil, fmt.Errorf("route for %s deposit address %s is configured twice", r.Coin, r.Address)
		}
		b.routes[key] = *r
	}

	return b, nil
}

func coinFromConfig(cc config.CoinConfig) (*domain.Coin, error) {
	sym := strings.ToUpper(strings.TrimSpace(cc.Symbol))
	if sym == "" {
		return nil, fmt.Errorf("coin with empty symbol in config")
	}
	mode := domain.CoinMode(cc.Mode)
	if mode != domain.ModeAddress && mode != domain.ModeAccount {
		return nil, fmt.Errorf("coin %s: mode must be %q or %q, got %q",
			sym, domain.ModeAddress, domain.ModeAccount, cc.Mode)
	}
	if mode == domain.ModeAccount && cc.OurAccount == "" {
		return nil, fmt.Errorf("coin %s: account-based coins need our_account", sym)
	}
	if cc.Handler == "" {
		return nil, fmt.Errorf("coin %s: handler binding is required", sym)
	}
	netFee, err := decimal.NewFromString(orZero(cc.NetworkFee))
	if err != nil {
		return nil, fmt.Errorf("coin %s: network_fee %q: %w", sym, cc.NetworkFee, err)
	}
	if netFee.IsNegative() {
		return nil, fmt.Errorf("coin %s: network_fee must not be negative", sym)
	}
	enabled := true
	if cc.Enabled != nil {
		enabled = *cc.Enabled
	}
	return &domain.Coin{
		Symbol:          sym,
		DisplayName:     cc.DisplayName,
		Handler:         cc.Handler,
		Mode:            mode,
		OurAccount:      cc.OurAccount,
		NetworkFee:      netFee,
		CanIssue:        cc.CanIssue,
		Enabled:         enabled,
		ContractAddress: cc.ContractAddress,
	}, nil
}

func (b *Book) pairFromConfig(pc config.PairConfig, defaultFee decimal.Decimal, sources map[string]bool) (*domain.CoinPair, error) {
	from := strings.ToUpper(strings.TrimSpace(pc.From))
	to := strings.ToUpper(strings.TrimSpace(pc.To))
	if from == to {
		return nil, fmt.Errorf("pair %s -> %s: a coin cannot convert to itself", from, to)
	}
	if _, ok := b.coins[from]; !ok {
		return nil, fmt.Errorf("pair %s -> %s: from-coin is not configured", from, to)
	}
	if _, ok := b.coins[to]; !ok {
		return nil, fmt.Errorf("pair %s -> %s: to-coin is not configured", from, to)
	}

	p := &domain.CoinPair{FromCoin: from, ToCoin: to, FeePercent: defaultFee}

	switch {
	case pc.Rate != "" && pc.RateSource != "":
		return nil, fmt.Errorf("pair %s -> %s: rate and rate_source are mutually exclusive", from, to)
	case pc.Rate != "":
		rate, err := decimal.NewFromString(pc.Rate)
		if err != nil {
			return nil, fmt.Errorf("pair %s -> %s: rate %q: %w", from, to, pc.Rate, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("pair %s -> %s: rate must be > 0, got %s", from, to, rate)
		}
		p.Rate = rate
	case pc.RateSource != "":
		if !sources[pc.RateSource] {
			return nil, fmt.Errorf("pair %s -> %s: unknown rate_source %q", from, to, pc.RateSource)
		}
		p.RateSource = pc.RateSource
	default:
		return nil, fmt.Errorf("pair %s -> %s: one of rate or rate_source is required", from, to)
	}

	if pc.FeePercent != "" {
		fee, err := decimal.NewFromString(pc.FeePercent)
		if err != nil {
			return nil, fmt.Errorf("pair %s -> %s: fee_percent %q: %w", from, to, pc.FeePercent, err)
		}
		if fee.IsNegative() {
			return nil, fmt.Errorf("pair %s -> %s: fee_percent must not be negative", from, to)
		}
		p.FeePercent = fee
	}
	return p, nil
}

func (b *Book) routeFromConfig(rc config.RouteConfig) (*domain.DepositRoute, error) {
	coin := strings.ToUpper(strings.TrimSpace(rc.Coin))
	dest := strings.ToUpper(strings.TrimSpace(rc.DestinationCoin))
	if _, ok := b.coins[coin]; !ok {
		return nil, fmt.Errorf("route for unknown coin %s", coin)
	}
	if rc.Address == "" {
		return nil, fmt.Errorf("route for coin %s: deposit address is required", coin)
	}
	if rc.DestinationAddress == "" {
		return nil, fmt.Errorf("route for %s address %s: destination_address is required", coin, rc.Address)
	}
	if _, ok := b.pairs[pairKey(coin, dest)]; !ok {
		return nil, fmt.Errorf("route for %s address %s: no pair %s -> %s configured",
			coin, rc.Address, coin, dest)
	}
	return &domain.DepositRoute{
		Coin:               coin,
		Address:            rc.Address,
		Memo:               rc.Memo,
		DestinationCoin:    dest,
		DestinationAddress: rc.DestinationAddress,
		DestinationMemo:    rc.DestinationMemo,
	}, nil
}

// ---------- LOOKUPS ----------

func (b *Book) Coin(symbol string) (*domain.Coin, bool) {
	c, ok := b.coins[strings.ToUpper(symbol)]
	if !ok {
		return nil, false
	}
	return &c, true
}

func (b *Book) EnabledCoins() []domain.Coin {
	out := make([]domain.Coin, 0, len(b.coins))
	for _, c := range b.coins {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

func (b *Book) Pair(from, to string) (*domain.CoinPair, bool) {
	p, ok := b.pairs[pairKey(strings.ToUpper(from), strings.ToUpper(to))]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (b *Book) PairsFrom(from string) []domain.CoinPair {
	return b.pairsFrom[strings.ToUpper(from)]
}

// Route resolves a deposit route: an exact (coin, address, memo) entry wins,
// then a memo-less entry for the same address.
func (b *Book) Route(coin, address, memo string) (*domain.DepositRoute, bool) {
	coin = strings.ToUpper(coin)
	if memo != "" {
		if r, ok := b.routes[routeKey(coin, address, memo)]; ok {
			return &r, true
		}
	}
	if r, ok := b.routes[routeKey(coin, address, "")]; ok {
		return &r, true
	}
	return nil, false
}

// Sync mirrors the book into the database for the query surfaces.
func (b *Book) Sync(ctx context.Context, repo domain.CoinRepository) error {
	coins := make([]domain.Coin, 0, len(b.coins))
	for _, c := range b.coins {
		coins = append(coins, c)
	}
	if err := repo.UpsertCoins(ctx, coins); err != nil {
		return fmt.Errorf("sync coins: %w", err)
	}
	pairs := make([]domain.CoinPair, 0, len(b.pairs))
	for _, p := range b.pairs {
		pairs = append(pairs, p)
	}
	if err := repo.UpsertPairs(ctx, pairs); err != nil {
		return fmt.Errorf("sync pairs: %w", err)
	}
	b.log.Infof("Reference data synced: %d coins, %d pairs, %d routes",
		len(coins), len(pairs), len(b.routes))
	return nil
}

// ---------- HELPERS ----------

func pairKey(from, to string) string { return from + "/" + to }

func routeKey(coin, address, memo string) string { return coin + "|" + address + "|" + memo }

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
