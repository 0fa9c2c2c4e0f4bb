package bitcoinrpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
)

var _ domain.Loader = (*Handler)(nil)
var _ domain.Manager = (*Handler)(nil)

// listBatch bounds how far back a single LoadIncoming looks. Dedup downstream
// makes re-reporting older transactions harmless.
const listBatch = 500

// Handler services address-based coins whose daemons speak the bitcoind
// wallet RPC. One client per coin: each chain runs its own daemon.
type Handler struct {
	name        string
	log         *logger.Logger
	clients     map[string]*Client
	minConfirms int
}

// NewHandler builds the handler. Transactions with fewer than minConfirms
// confirmations are not reported, unless the wallet marks them trusted; a
// UTXO deposit accepted at zero confirmations can still be double-spent
// after we have irreversibly paid out the counterpart.
func NewHandler(name string, log *logger.Logger, clients map[string]*Client, minConfirms int) *Handler {
	normalized := make(map[string]*Client, len(clients))
	for coin, c := range clients {
		normalized[strings.ToUpper(coin)] = c
	}
	return &Handler{name: name, log: log, clients: normalized, minConfirms: minConfirms}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Coins() []string {
	out := make([]string, 0, len(h.clients))
	for coin := range h.clients {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) Provides() []string {
	return []string{domain.CapLoader, domain.CapManager}
}

func (h *Handler) client(coin string) (*Client, error) {
	c, ok := h.clients[strings.ToUpper(coin)]
	if !ok {
		return nil, fmt.Errorf("handler %s does not service coin %s", h.name, coin)
	}
	return c, nil
}

func (h *Handler) LoadIncoming(ctx context.Context, coin string) ([]domain.RawTx, error) {
	c, err := h.client(coin)
	if err != nil {
		return nil, err
	}
	txs, err := c.ListTransactions(ctx, listBatch)
	if err != nil {
		return nil, fmt.Errorf("%w: listtransactions %s: %v", domain.ErrDeadAPI, coin, err)
	}

	coin = strings.ToUpper(coin)
	var out []domain.RawTx
	for _, tx := range txs {
		if tx.Category != "receive" || tx.Generated {
			continue
		}
		if tx.Confirmations < h.minConfirms && !tx.Trusted {
			h.log.Debugf("skipping %s tx %s: %d of %d confirmations",
				coin, tx.TxID, tx.Confirmations, h.minConfirms)
			continue
		}
		out = append(out, domain.RawTx{
			Coin:      coin,
			TxID:      tx.TxID,
			Vout:      tx.Vout,
			Address:   tx.Address,
			Amount:    tx.Amount,
			Timestamp: time.Unix(tx.Time, 0).UTC(),
		})
	}
	return out, nil
}

func (h *Handler) ValidateDestination(ctx context.Context, coin, destination, _ string) error {
	c, err := h.client(coin)
	if err != nil {
		return err
	}
	info, err := c.ValidateAddress(ctx, destination)
	if err != nil {
		return fmt.Errorf("%w: validateaddress: %v", domain.ErrDeadAPI, err)
	}
	if !info.IsValid {
		return fmt.Errorf("%w: %s is not a valid %s address", domain.ErrAccountNotFound, destination, coin)
	}
	return nil
}

func (h *Handler) Send(ctx context.Context, req domain.SendRequest) (*domain.SendResult, error) {
	if req.Issue {
		return nil, fmt.Errorf("%w: %s", domain.ErrIssueNotSupported, req.Coin)
	}
	c, err := h.client(req.Coin)
	if err != nil {
		return nil, err
	}

	balance, err := c.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: getbalance: %v", domain.ErrDeadAPI, err)
	}
	if balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: have %s, need %s %s",
			domain.ErrNotEnoughBalance, balance, req.Amount, req.Coin)
	}

	txid, err := c.SendToAddress(ctx, req.Destination, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: sendtoaddress: %v", domain.ErrDeadAPI, err)
	}

	result := &domain.SendResult{
		TxID:   txid,
		Coin:   strings.ToUpper(req.Coin),
		Amount: req.Amount,
	}
	// Fee lookup is best effort; the payout already happened.
	if wtx, err := c.GetTransaction(ctx, txid); err == nil {
		result.NetworkFee = wtx.Fee.Abs()
	} else {
		h.log.Warnf("gettransaction %s failed after send: %v", txid, err)
	}
	return result, nil
}
