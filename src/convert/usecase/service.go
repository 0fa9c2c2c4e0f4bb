package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	depositdomain "github.com/mnikzad/tokengate/src/deposit/domain"
	handlerdomain "github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/handler/registry"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/metrics"
	"github.com/mnikzad/tokengate/src/rates"
)

// Service is the conversion pipeline. It scans NEW and ERRORED deposits,
// claims each with an atomic status swap, routes it to a destination, prices
// it and pays out. Deposits are independent: one failure never aborts a run.
type Service struct {
	registry       *registry.Registry
	book           coindomain.ReferenceBook
	depositRepo    depositdomain.DepositRepository
	conversionRepo depositdomain.ConversionRepository
	engine         *rates.Engine
	logger         *logger.Logger
	metrics        *metrics.GatewayMetrics

	workers        int
	batchSize      int
	claimTTL       time.Duration
	handlerTimeout time.Duration

	now func() time.Time
}

func NewService(
	reg *registry.Registry,
	book coindomain.ReferenceBook,
	depositRepo depositdomain.DepositRepository,
	conversionRepo depositdomain.ConversionRepository,
	engine *rates.Engine,
	logg *logger.Logger,
	m *metrics.GatewayMetrics,
	workers, batchSize int,
	claimTTL, handlerTimeout time.Duration,
) *Service {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 100
	}
	return &Service{
		registry:       reg,
		book:           book,
		depositRepo:    depositRepo,
		conversionRepo: conversionRepo,
		engine:         engine,
		logger:         logg,
		metrics:        m,
		workers:        workers,
		batchSize:      batchSize,
		claimTTL:       claimTTL,
		handlerTimeout: handlerTimeout,
		now:            time.Now,
	}
}

// destination is a fully resolved conversion target.
type destination struct {
	pair    *coindomain.CoinPair
	toCoin  *coindomain.Coin
	address string
	memo    string
}

func (d *destination) cacheKey() string {
	return d.toCoin.Symbol + "|" + d.address + "|" + d.memo
}

// Run executes one conversion pass.
func (s *Service) Run(ctx context.Context) error {
	start := s.now()
	defer func() {
		s.metrics.PipelineRunDuration.WithLabelValues("convert").Observe(time.Since(start).Seconds())
	}()

	reclaimed, err := s.depositRepo.ReclaimStale(ctx, start.Add(-s.claimTTL))
	if err != nil {
		return fmt.Errorf("reclaim stale claims: %w", err)
	}
	if reclaimed > 0 {
		s.metrics.StaleClaimsReclaimed.Add(float64(reclaimed))
		s.logger.Warnf("conversion: reclaimed %d expired claims", reclaimed)
	}

	deposits, err := s.depositRepo.GetConvertible(ctx, s.batchSize)
	if err != nil {
		return fmt.Errorf("load convertible deposits: %w", err)
	}
	if len(deposits) == 0 {
		return nil
	}
	s.logger.Infof("conversion: %d deposits to process", len(deposits))

	validated := s.batchValidate(ctx, deposits)

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, d := range deposits {
		deposit := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.convertOne(ctx, deposit, validated)
		}()
	}
	wg.Wait()
	return nil
}

// batchValidate runs amortized destination validation for managers that
// support it. Results are keyed by destination so the workers skip the
// per-deposit call. Best effort: anything not in the map is validated inline.
func (s *Service) batchValidate(ctx context.Context, deposits []depositdomain.Deposit) map[string]error {
	byManager := map[string][]handlerdomain.ValidateRequest{}
	managers := map[string]handlerdomain.BatchManager{}
	for i := range deposits {
		dest, _ := s.resolveDestination(&deposits[i])
		if dest == nil {
			continue
		}
		m, ok := s.registry.ManagerFor(dest.toCoin.Symbol)
		if !ok {
			continue
		}
		bm, ok := m.(handlerdomain.BatchManager)
		if !ok {
			continue
		}
		managers[bm.Name()] = bm
		byManager[bm.Name()] = append(byManager[bm.Name()], handlerdomain.ValidateRequest{
			Coin:        dest.toCoin.Symbol,
			Destination: dest.address,
			Memo:        dest.memo,
		})
	}

	out := map[string]error{}
	for name, reqs := range byManager {
		vctx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
		results := managers[name].ValidateDestinations(vctx, reqs)
		cancel()
		for i, req := range reqs {
			key := req.Coin + "|" + req.Destination + "|" + req.Memo
			if i < len(results) {
				out[key] = results[i]
			}
		}
	}
	return out
}

func (s *Service) convertOne(ctx context.Context, d depositdomain.Deposit, validated map[string]error) {
	claimed, err := s.depositRepo.Claim(ctx, d.ID, d.Status, s.now())
	if err != nil {
		s.logger.Errorf("conversion: claim deposit %d: %v", d.ID, err)
		return
	}
	if !claimed {
		// another worker or run got there first
		return
	}

	dest, reason := s.resolveDestination(&d)
	if dest == nil {
		s.finish(ctx, &d, depositdomain.StatusInvalid, reason)
		return
	}

	manager, ok := s.registry.ManagerFor(dest.toCoin.Symbol)
	if !ok {
		s.finish(ctx, &d, depositdomain.StatusErrored,
			fmt.Sprintf("no manager registered for %s", dest.toCoin.Symbol))
		return
	}

	vErr, cached := validated[dest.cacheKey()]
	if !cached {
		vctx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
		vErr = manager.ValidateDestination(vctx, dest.toCoin.Symbol, dest.address, dest.memo)
		cancel()
	}
	if vErr != nil {
		if handlerdomain.Invalid(vErr) {
			s.finish(ctx, &d, depositdomain.StatusInvalid, vErr.Error())
		} else {
			s.finish(ctx, &d, depositdomain.StatusErrored, vErr.Error())
		}
		return
	}

	qctx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
	quote, err := s.engine.QuoteDeposit(qctx, dest.pair, dest.toCoin, d.Amount)
	cancel()
	if err != nil {
		var unpayable *rates.ErrUnpayable
		if errors.As(err, &unpayable) {
			s.finish(ctx, &d, depositdomain.StatusInvalid, err.Error())
		} else {
			s.finish(ctx, &d, depositdomain.StatusErrored, err.Error())
		}
		return
	}

	payoutMemo := dest.memo
	if payoutMemo == "" {
		payoutMemo = defaultPayoutMemo(&d)
	}

	sctx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
	result, err := manager.Send(sctx, handlerdomain.SendRequest{
		Coin:        dest.toCoin.Symbol,
		Destination: dest.address,
		Memo:        payoutMemo,
		Amount:      quote.Final,
		Issue:       dest.toCoin.CanIssue,
	})
	cancel()
	if err != nil {
		if handlerdomain.Invalid(err) {
			s.finish(ctx, &d, depositdomain.StatusInvalid, err.Error())
		} else {
			s.finish(ctx, &d, depositdomain.StatusErrored, err.Error())
		}
		return
	}

	conv := &depositdomain.Conversion{
		DepositID:   d.ID,
		FromCoin:    d.Coin,
		ToCoin:      dest.toCoin.Symbol,
		FromAddress: d.Address,
		ToAddress:   dest.address,
		ToMemo:      payoutMemo,
		AmountSent:  quote.Final,
		ExchangeFee: quote.ExchangeFee,
		NetworkFee:  quote.NetworkFee,
		TxID:        result.TxID,
	}
	// The payout already left; a bookkeeping failure must not flip the
	// deposit back to retryable.
	if err := s.conversionRepo.SaveConversion(ctx, conv); err != nil {
		s.logger.Errorf("conversion: record payout for deposit %d (txid %s): %v", d.ID, result.TxID, err)
	}
	s.finish(ctx, &d, depositdomain.StatusConverted, "")
	s.metrics.ConversionAmountTotal.WithLabelValues(dest.toCoin.Symbol).Add(quote.Final.InexactFloat64())
	s.logger.Infof("Converted deposit %d: %s %s -> %s %s (txid %s)",
		d.ID, d.Amount.String(), d.Coin, quote.Final.String(), dest.toCoin.Symbol, result.TxID)
}

// defaultPayoutMemo labels a payout whose route carries no memo, so the
// receiving side can tell what the transfer was for.
func defaultPayoutMemo(d *depositdomain.Deposit) string {
	memo := "Token conversion"
	if d.Address != "" {
		memo += fmt.Sprintf(" via %s deposit address %s", d.Coin, d.Address)
	}
	if d.FromAccount != "" {
		memo += fmt.Sprintf(" from %s account %s", d.Coin, d.FromAccount)
	}
	return memo
}

func (s *Service) finish(ctx context.Context, d *depositdomain.Deposit, to depositdomain.DepositStatus, reason string) {
	ok, err := s.depositRepo.Finish(ctx, d.ID, to, reason, s.now())
	if err != nil {
		s.logger.Errorf("conversion: finish deposit %d as %s: %v", d.ID, to, err)
		return
	}
	if !ok {
		s.logger.Warnf("conversion: deposit %d left PROCESSING before finish to %s", d.ID, to)
		return
	}
	s.metrics.ConversionsTotal.WithLabelValues(string(to)).Inc()
	if to != depositdomain.StatusConverted {
		s.logger.Warnf("conversion: deposit %d -> %s: %s", d.ID, to, reason)
	}
}

// resolveDestination figures out where a deposit converts to. A nil
// destination means the deposit can never convert; the reason says why.
//
// Account-based deposits route by memo: "SYMBOL ADDRESS [memo...]", with a
// fallback for coins that only have one outgoing pair, where the memo is just
// "ADDRESS [memo...]". Address-based deposits route by configured deposit
// routes only.
func (s *Service) resolveDestination(d *depositdomain.Deposit) (*destination, string) {
	coin, ok := s.book.Coin(d.Coin)
	if !ok {
		return nil, fmt.Sprintf("coin %s is not configured", d.Coin)
	}

	if coin.Mode == coindomain.ModeAddress {
		route, ok := s.book.Route(coin.Symbol, d.Address, d.Memo)
		if !ok {
			return nil, fmt.Sprintf("no deposit route for %s address %s", coin.Symbol, d.Address)
		}
		pair, ok := s.book.Pair(route.Coin, route.DestinationCoin)
		if !ok {
			return nil, fmt.Sprintf("no pair %s -> %s", route.Coin, route.DestinationCoin)
		}
		toCoin, ok := s.book.Coin(route.DestinationCoin)
		if !ok || !toCoin.Enabled {
			return nil, fmt.Sprintf("destination coin %s is not available", route.DestinationCoin)
		}
		return &destination{pair: pair, toCoin: toCoin, address: route.DestinationAddress, memo: route.DestinationMemo}, ""
	}

	fields := strings.Fields(d.Memo)
	if len(fields) == 0 {
		return nil, "empty memo on account-based deposit"
	}

	// Explicit form first: the leading token names the destination coin.
	if len(fields) >= 2 {
		if pair, ok := s.book.Pair(coin.Symbol, fields[0]); ok {
			toCoin, cok := s.book.Coin(pair.ToCoin)
			if !cok || !toCoin.Enabled {
				return nil, fmt.Sprintf("destination coin %s is not available", pair.ToCoin)
			}
			return &destination{
				pair:    pair,
				toCoin:  toCoin,
				address: fields[1],
				memo:    strings.Join(fields[2:], " "),
			}, ""
		}
	}

	// Fallback: a coin with exactly one outgoing pair needs no symbol prefix.
	pairs := s.book.PairsFrom(coin.Symbol)
	if len(pairs) != 1 {
		return nil, fmt.Sprintf("memo %q does not name a configured pair from %s", d.Memo, coin.Symbol)
	}
	pair := pairs[0]
	toCoin, ok := s.book.Coin(pair.ToCoin)
	if !ok || !toCoin.Enabled {
		return nil, fmt.Sprintf("destination coin %s is not available", pair.ToCoin)
	}
	return &destination{
		pair:    &pair,
		toCoin:  toCoin,
		address: fields[0],
		memo:    strings.Join(fields[1:], " "),
	}, ""
}
