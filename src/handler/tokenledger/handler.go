package tokenledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
)

var _ domain.BatchLoader = (*Handler)(nil)
var _ domain.BatchManager = (*Handler)(nil)

// Handler services account-based token coins sharing one ledger API. The
// ledger is account+memo addressed, so deposits are identified by txid+memo
// and one API round trip can cover every serviced coin.
type Handler struct {
	name   string
	log    *logger.Logger
	client *Client
	// coins maps symbol to its receiving account and issue flag.
	coins map[string]coindomain.Coin
}

func NewHandler(name string, log *logger.Logger, client *Client, coins []coindomain.Coin) *Handler {
	m := make(map[string]coindomain.Coin, len(coins))
	for _, c := range coins {
		m[strings.ToUpper(c.Symbol)] = c
	}
	return &Handler{name: name, log: log, client: client, coins: m}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Coins() []string {
	out := make([]string, 0, len(h.coins))
	for coin := range h.coins {
		out = append(out, coin)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) Provides() []string {
	return []string{domain.CapLoader, domain.CapBatchLoader, domain.CapManager, domain.CapBatchManager}
}

func (h *Handler) coin(symbol string) (*coindomain.Coin, error) {
	c, ok := h.coins[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("handler %s does not service coin %s", h.name, symbol)
	}
	return &c, nil
}

// ---------- LOADING ----------

func (h *Handler) LoadIncoming(ctx context.Context, coin string) ([]domain.RawTx, error) {
	return h.LoadIncomingBatch(ctx, []string{coin})
}

// LoadIncomingBatch groups the requested coins by receiving account and asks
// the ledger once per account.
func (h *Handler) LoadIncomingBatch(ctx context.Context, coins []string) ([]domain.RawTx, error) {
	byAccount := map[string][]string{}
	for _, symbol := range coins {
		c, err := h.coin(symbol)
		if err != nil {
			return nil, err
		}
		byAccount[c.OurAccount] = append(byAccount[c.OurAccount], c.Symbol)
	}

	var out []domain.RawTx
	for account, symbols := range byAccount {
		transfers, err := h.client.IncomingTransfers(ctx, account, symbols)
		if err != nil {
			return nil, fmt.Errorf("%w: incoming transfers for %s: %v", domain.ErrDeadAPI, account, err)
		}
		for _, t := range transfers {
			out = append(out, domain.RawTx{
				Coin:        strings.ToUpper(t.Coin),
				TxID:        t.TxID,
				FromAccount: t.From,
				ToAccount:   t.To,
				Memo:        t.Memo,
				Amount:      t.Amount,
				Timestamp:   t.Timestamp,
			})
		}
	}
	return out, nil
}

// ---------- MANAGING ----------

func (h *Handler) ValidateDestination(ctx context.Context, coin, destination, _ string) error {
	if _, err := h.coin(coin); err != nil {
		return err
	}
	acct, err := h.client.GetAccount(ctx, destination)
	if err != nil {
		return fmt.Errorf("%w: account lookup: %v", domain.ErrDeadAPI, err)
	}
	if !acct.Exists {
		return fmt.Errorf("%w: account %q", domain.ErrAccountNotFound, destination)
	}
	return nil
}

// ValidateDestinations resolves all account names in one lookup call.
// Result i corresponds to request i.
func (h *Handler) ValidateDestinations(ctx context.Context, reqs []domain.ValidateRequest) []error {
	out := make([]error, len(reqs))

	names := make([]string, 0, len(reqs))
	seen := map[string]bool{}
	for i, req := range reqs {
		if _, err := h.coin(req.Coin); err != nil {
			out[i] = err
			continue
		}
		if !seen[req.Destination] {
			seen[req.Destination] = true
			names = append(names, req.Destination)
		}
	}
	if len(names) == 0 {
		return out
	}

	accounts, err := h.client.GetAccounts(ctx, names)
	if err != nil {
		apiErr := fmt.Errorf("%w: account lookup: %v", domain.ErrDeadAPI, err)
		for i := range out {
			if out[i] == nil {
				out[i] = apiErr
			}
		}
		return out
	}

	exists := map[string]bool{}
	for _, a := range accounts {
		exists[a.Name] = a.Exists
	}
	for i, req := range reqs {
		if out[i] != nil {
			continue
		}
		if !exists[req.Destination] {
			out[i] = fmt.Errorf("%w: account %q", domain.ErrAccountNotFound, req.Destination)
		}
	}
	return out
}

func (h *Handler) Send(ctx context.Context, req domain.SendRequest) (*domain.SendResult, error) {
	c, err := h.coin(req.Coin)
	if err != nil {
		return nil, err
	}
	if req.Issue && !c.CanIssue {
		return nil, fmt.Errorf("%w: %s", domain.ErrIssueNotSupported, c.Symbol)
	}

	from := req.FromAccount
	if from == "" {
		from = c.OurAccount
	}

	if !req.Issue {
		balance, err := h.client.GetBalance(ctx, from, c.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: balance lookup: %v", domain.ErrDeadAPI, err)
		}
		if balance.LessThan(req.Amount) {
			return nil, fmt.Errorf("%w: %s has %s, need %s %s",
				domain.ErrNotEnoughBalance, from, balance, req.Amount, c.Symbol)
		}
	}

	result, err := h.client.SubmitTransfer(ctx, TransferRequest{
		From:   from,
		To:     req.Destination,
		Coin:   c.Symbol,
		Amount: req.Amount,
		Memo:   req.Memo,
		Issue:  req.Issue,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transfer: %v", domain.ErrDeadAPI, err)
	}
	return &domain.SendResult{
		TxID:       result.TxID,
		Coin:       c.Symbol,
		Amount:     req.Amount,
		NetworkFee: result.Fee,
	}, nil
}
