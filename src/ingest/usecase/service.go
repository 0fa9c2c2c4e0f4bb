package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	depositdomain "github.com/mnikzad/tokengate/src/deposit/domain"
	handlerdomain "github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/handler/registry"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/metrics"
)

// Service is the deposit ingestion pipeline: ask every loader-capable handler
// for recent transactions and conditionally insert them as NEW. The dedup
// index makes re-runs free, so loaders are allowed to re-report history.
type Service struct {
	registry    *registry.Registry
	book        coindomain.ReferenceBook
	depositRepo depositdomain.DepositRepository
	logger      *logger.Logger
	metrics     *metrics.GatewayMetrics

	workers        int
	handlerTimeout time.Duration
}

func NewService(
	reg *registry.Registry,
	book coindomain.ReferenceBook,
	depositRepo depositdomain.DepositRepository,
	logg *logger.Logger,
	m *metrics.GatewayMetrics,
	workers int,
	handlerTimeout time.Duration,
) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		registry:       reg,
		book:           book,
		depositRepo:    depositRepo,
		logger:         logg,
		metrics:        m,
		workers:        workers,
		handlerTimeout: handlerTimeout,
	}
}

// loadUnit is one handler call: a batch loader with all its enabled coins, or
// a plain loader with a single coin.
type loadUnit struct {
	handler handlerdomain.Handler
	coins   []string
}

// Run executes one ingestion pass. Handler failures are logged and skipped;
// only a broken pipeline setup returns an error.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.PipelineRunDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	units := s.buildUnits()
	if len(units) == 0 {
		s.logger.Warnf("ingestion run: no loader-capable handlers with enabled coins")
		return nil
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, u := range units {
		unit := u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.runUnit(ctx, unit)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Service) buildUnits() []loadUnit {
	enabled := map[string]bool{}
	for _, c := range s.book.EnabledCoins() {
		enabled[c.Symbol] = true
	}

	var units []loadUnit
	for _, h := range s.registry.Handlers() {
		var coins []string
		for _, coin := range h.Coins() {
			if enabled[strings.ToUpper(coin)] {
				coins = append(coins, strings.ToUpper(coin))
			}
		}
		if len(coins) == 0 {
			continue
		}
		switch h.(type) {
		case handlerdomain.BatchLoader:
			units = append(units, loadUnit{handler: h, coins: coins})
		case handlerdomain.Loader:
			for _, coin := range coins {
				units = append(units, loadUnit{handler: h, coins: []string{coin}})
			}
		}
	}
	return units
}

func (s *Service) runUnit(ctx context.Context, unit loadUnit) {
	ctx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
	defer cancel()

	var txs []handlerdomain.RawTx
	var err error
	if bl, ok := unit.handler.(handlerdomain.BatchLoader); ok {
		txs, err = bl.LoadIncomingBatch(ctx, unit.coins)
	} else {
		txs, err = unit.handler.(handlerdomain.Loader).LoadIncoming(ctx, unit.coins[0])
	}
	if err != nil {
		s.metrics.LoaderErrorsTotal.WithLabelValues(unit.handler.Name()).Inc()
		s.logger.Errorf("ingestion: handler %q coins %v: %v", unit.handler.Name(), unit.coins, err)
		return
	}

	var inserted, dups, skipped int
	for _, tx := range txs {
		d, ok := s.normalize(unit.handler.Name(), tx)
		if !ok {
			skipped++
			continue
		}
		created, err := s.depositRepo.InsertIfNew(ctx, d)
		if err != nil {
			s.logger.Errorf("ingestion: insert %s %s: %v", d.Coin, d.TxID, err)
			continue
		}
		if created {
			inserted++
			s.metrics.DepositsIngestedTotal.WithLabelValues(d.Coin).Inc()
			s.logger.Infof("Deposit recorded: coin=%s txid=%s vout=%d memo=%q amount=%s",
				d.Coin, d.TxID, d.Vout, d.Memo, d.Amount.String())
		} else {
			dups++
			s.metrics.DepositsDuplicatesTotal.WithLabelValues(d.Coin).Inc()
		}
	}
	s.logger.Infof("ingestion: handler %q coins %v: %d new, %d known, %d skipped",
		unit.handler.Name(), unit.coins, inserted, dups, skipped)
}

// normalize turns a raw handler transaction into a ledger row. Transactions
// for unknown or disabled coins, foreign handlers, or with a useless amount
// are dropped.
func (s *Service) normalize(handlerName string, tx handlerdomain.RawTx) (*depositdomain.Deposit, bool) {
	coin, ok := s.book.Coin(tx.Coin)
	if !ok || !coin.Enabled {
		return nil, false
	}
	if coin.Handler != handlerName {
		s.logger.Warnf("ingestion: handler %q reported tx for coin %s bound to %q",
			handlerName, coin.Symbol, coin.Handler)
		return nil, false
	}
	if tx.TxID == "" || !tx.Amount.IsPositive() {
		return nil, false
	}
	return &depositdomain.Deposit{
		Coin:        coin.Symbol,
		TxID:        tx.TxID,
		Vout:        tx.Vout,
		Address:     tx.Address,
		FromAccount: tx.FromAccount,
		ToAccount:   tx.ToAccount,
		Memo:        strings.TrimSpace(tx.Memo),
		Amount:      tx.Amount,
		TxTimestamp: tx.Timestamp,
	}, true
}
