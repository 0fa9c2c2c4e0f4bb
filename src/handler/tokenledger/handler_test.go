package tokenledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
)

func testCoins() []coindomain.Coin {
	return []coindomain.Coin{
		{Symbol: "SGTK", Mode: coindomain.ModeAccount, OurAccount: "gateway-in", CanIssue: true},
		{Symbol: "STEEMP", Mode: coindomain.ModeAccount, OurAccount: "gateway-in"},
	}
}

func newTestHandler(t *testing.T, srv *httptest.Server) *Handler {
	t.Helper()
	client, err := NewClient(srv.URL, WithToken("test-token"))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewHandler("tokenledger", logger.New("dev"), client, testCoins())
}

func envelope(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "result": result})
}

func TestLoadIncomingBatchGroupsByAccount(t *testing.T) {
	var gotAuth string
	var gotCoins []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers/incoming" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotCoins = r.URL.Query()["coin"]
		envelope(w, map[string]any{"transfers": []map[string]any{
			{"txid": "tx1", "coin": "SGTK", "from": "alice", "to": "gateway-in",
				"memo": "STEEMP bob", "amount": "5"},
		}})
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	txs, err := h.LoadIncomingBatch(context.Background(), []string{"SGTK", "STEEMP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	// one account, so both coins travel in one request
	if len(gotCoins) != 2 {
		t.Errorf("coins in request = %v, want both", gotCoins)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}
	tx := txs[0]
	if tx.Coin != "SGTK" || tx.TxID != "tx1" || tx.Memo != "STEEMP bob" {
		t.Errorf("tx = %+v", tx)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("amount = %s, want 5", tx.Amount)
	}
}

func TestValidateDestinationsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/lookup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Names []string `json:"names"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var accounts []map[string]any
		for _, n := range body.Names {
			accounts = append(accounts, map[string]any{"name": n, "exists": n != "ghost"})
		}
		envelope(w, map[string]any{"accounts": accounts})
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)
	results := h.ValidateDestinations(context.Background(), []domain.ValidateRequest{
		{Coin: "SGTK", Destination: "alice"},
		{Coin: "SGTK", Destination: "ghost"},
		{Coin: "DOGE", Destination: "alice"},
	})
	if results[0] != nil {
		t.Errorf("alice should validate, got %v", results[0])
	}
	if !errors.Is(results[1], domain.ErrAccountNotFound) {
		t.Errorf("ghost should be ErrAccountNotFound, got %v", results[1])
	}
	if results[2] == nil {
		t.Error("unserviced coin should fail")
	}
}

func TestSendChecksBalanceAndIssues(t *testing.T) {
	var transfers []TransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/balances":
			envelope(w, map[string]any{"balance": "3"})
		case "/v1/transfers":
			var req TransferRequest
			json.NewDecoder(r.Body).Decode(&req)
			transfers = append(transfers, req)
			envelope(w, map[string]any{"txid": "out-1", "fee": "0"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	h := newTestHandler(t, srv)

	// STEEMP cannot issue and the balance is 3
	_, err := h.Send(context.Background(), domain.SendRequest{
		Coin: "STEEMP", Destination: "bob", Amount: decimal.NewFromInt(10),
	})
	if !errors.Is(err, domain.ErrNotEnoughBalance) {
		t.Errorf("expected ErrNotEnoughBalance, got %v", err)
	}

	// issuance skips the balance check entirely
	res, err := h.Send(context.Background(), domain.SendRequest{
		Coin: "SGTK", Destination: "bob", Amount: decimal.NewFromInt(10), Issue: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TxID != "out-1" {
		t.Errorf("txid = %s", res.TxID)
	}
	if len(transfers) != 1 || !transfers[0].Issue || transfers[0].From != "gateway-in" {
		t.Errorf("transfer request = %+v", transfers)
	}

	// issuing a coin that cannot issue never reaches the backend
	_, err = h.Send(context.Background(), domain.SendRequest{
		Coin: "STEEMP", Destination: "bob", Amount: decimal.NewFromInt(1), Issue: true,
	})
	if !errors.Is(err, domain.ErrIssueNotSupported) {
		t.Errorf("expected ErrIssueNotSupported, got %v", err)
	}
}
