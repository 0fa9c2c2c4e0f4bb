// Package mock simulates a coin backend in memory; use for local testing and
// the pipeline tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
)

var _ domain.Loader = (*Handler)(nil)
var _ domain.Manager = (*Handler)(nil)

// Handler holds a queue of pending incoming transactions and an account
// balance map. Every serviced coin can issue.
type Handler struct {
	name   string
	logger *logger.Logger

	mu       sync.Mutex
	coins    map[string]bool
	pending  map[string][]domain.RawTx
	balances map[string]map[string]decimal.Decimal // account -> coin -> balance
	accounts map[string]bool
	sent     []domain.SendRequest
}

func NewHandler(name string, logger *logger.Logger, coins ...string) *Handler {
	h := &Handler{
		name:     name,
		logger:   logger,
		coins:    map[string]bool{},
		pending:  map[string][]domain.RawTx{},
		balances: map[string]map[string]decimal.Decimal{},
		accounts: map[string]bool{},
	}
	for _, coin := range coins {
		h.coins[strings.ToUpper(coin)] = true
	}
	// seed a treasury so sends work out of the box
	for coin := range h.coins {
		h.SetBalance("treasury-"+name, coin, decimal.NewFromInt(10000))
	}
	return h
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Coins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.coins))
	for coin := range h.coins {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) Provides() []string {
	return []string{domain.CapLoader, domain.CapManager}
}

// ---------- TEST CONTROLS ----------

// QueueDeposit makes tx show up on the next LoadIncoming for its coin.
func (h *Handler) QueueDeposit(tx domain.RawTx) {
	h.mu.Lock()
	defer h.mu.Unlock()
	coin := strings.ToUpper(tx.Coin)
	tx.Coin = coin
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	h.pending[coin] = append(h.pending[coin], tx)
}

func (h *Handler) SetBalance(account, coin string, amount decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accounts[account] = true
	coin = strings.ToUpper(coin)
	if _, ok := h.balances[account]; !ok {
		h.balances[account] = map[string]decimal.Decimal{}
	}
	h.balances[account][coin] = amount
}

func (h *Handler) RegisterAccount(account string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accounts[account] = true
}

// Sent returns every payout this handler has executed, oldest first.
func (h *Handler) Sent() []domain.SendRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.SendRequest, len(h.sent))
	copy(out, h.sent)
	return out
}

// ---------- CAPABILITIES ----------

// LoadIncoming keeps returning queued transactions without consuming them,
// the same way a real backend re-reports recent history.
func (h *Handler) LoadIncoming(_ context.Context, coin string) ([]domain.RawTx, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	coin = strings.ToUpper(coin)
	if !h.coins[coin] {
		return nil, fmt.Errorf("handler %s does not service coin %s", h.name, coin)
	}
	out := make([]domain.RawTx, len(h.pending[coin]))
	copy(out, h.pending[coin])
	return out, nil
}

func (h *Handler) ValidateDestination(_ context.Context, coin, destination, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.coins[strings.ToUpper(coin)] {
		return fmt.Errorf("handler %s does not service coin %s", h.name, coin)
	}
	if !h.accounts[destination] {
		return fmt.Errorf("%w: %q", domain.ErrAccountNotFound, destination)
	}
	return nil
}

func (h *Handler) Send(_ context.Context, req domain.SendRequest) (*domain.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	coin := strings.ToUpper(req.Coin)
	if !h.coins[coin] {
		return nil, fmt.Errorf("handler %s does not service coin %s", h.name, req.Coin)
	}
	if !h.accounts[req.Destination] {
		return nil, fmt.Errorf("%w: %q", domain.ErrAccountNotFound, req.Destination)
	}

	from := req.FromAccount
	if from == "" {
		from = "treasury-" + h.name
	}

	if !req.Issue {
		bal := h.balances[from][coin]
		if bal.LessThan(req.Amount) {
			return nil, fmt.Errorf("%w: %s has %s, need %s %s",
				domain.ErrNotEnoughBalance, from, bal, req.Amount, coin)
		}
		h.balances[from][coin] = bal.Sub(req.Amount)
	}
	if _, ok := h.balances[req.Destination]; !ok {
		h.balances[req.Destination] = map[string]decimal.Decimal{}
	}
	h.balances[req.Destination][coin] = h.balances[req.Destination][coin].Add(req.Amount)

	h.sent = append(h.sent, req)
	tx := fmt.Sprintf("%s-send-%s", h.name, uuid.New().String())
	h.logger.Infof("mock send tx=%s to=%s coin=%s amount=%s issue=%v",
		tx, req.Destination, coin, req.Amount.String(), req.Issue)
	return &domain.SendResult{
		TxID:   tx,
		Coin:   coin,
		Amount: req.Amount,
	}, nil
}
