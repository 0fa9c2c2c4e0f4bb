package bitcoinrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
)

type rpcCall struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newRPCServer(t *testing.T, respond func(call rpcCall) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			t.Errorf("missing or wrong basic auth: %s/%s", user, pass)
		}
		var call rpcCall
		json.NewDecoder(r.Body).Decode(&call)
		result, rpcErr := respond(call)
		json.NewEncoder(w).Encode(map[string]any{
			"result": result,
			"error":  rpcErr,
			"id":     "tokengate",
		})
	}))
}

func newTestHandler(t *testing.T, srv *httptest.Server, minConfirms int) *Handler {
	t.Helper()
	client, err := NewClient(srv.URL, WithAuth("rpcuser", "rpcpass"))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewHandler("bitcoinrpc", logger.New("dev"), map[string]*Client{"LTC": client}, minConfirms)
}

func TestLoadIncomingKeepsOnlyReceives(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		if call.Method != "listtransactions" {
			t.Errorf("method = %s", call.Method)
		}
		return []map[string]any{
			{"category": "receive", "address": "addr1", "amount": "1.5", "vout": 0, "txid": "tx1", "time": 1700000000},
			{"category": "send", "address": "addr2", "amount": "-2", "vout": 0, "txid": "tx2", "time": 1700000001},
			{"category": "receive", "address": "addr1", "amount": "0.25", "vout": 1, "txid": "tx1", "time": 1700000000},
		}, nil
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 0)
	txs, err := h.LoadIncoming(context.Background(), "ltc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2 receives", len(txs))
	}
	if txs[0].Coin != "LTC" || txs[0].TxID != "tx1" || txs[0].Vout != 0 {
		t.Errorf("tx[0] = %+v", txs[0])
	}
	if txs[1].Vout != 1 || !txs[1].Amount.Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("tx[1] = %+v", txs[1])
	}
}

func TestLoadIncomingWaitsForConfirmations(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		return []map[string]any{
			{"category": "receive", "address": "addr1", "amount": "1", "txid": "unconfirmed-tx", "time": 1700000000, "confirmations": 0},
			{"category": "receive", "address": "addr1", "amount": "2", "txid": "trusted-tx", "time": 1700000001, "confirmations": 0, "trusted": true},
			{"category": "receive", "address": "addr1", "amount": "3", "txid": "confirmed-tx", "time": 1700000002, "confirmations": 3},
			{"category": "receive", "address": "addr1", "amount": "50", "txid": "coinbase-tx", "time": 1700000003, "confirmations": 120, "generated": true},
		}, nil
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 2)
	txs, err := h.LoadIncoming(context.Background(), "LTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want trusted-tx and confirmed-tx", len(txs))
	}
	if txs[0].TxID != "trusted-tx" || txs[1].TxID != "confirmed-tx" {
		t.Errorf("kept %s and %s", txs[0].TxID, txs[1].TxID)
	}
}

func TestValidateDestination(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		addr, _ := call.Params[0].(string)
		return map[string]any{"isvalid": addr == "good-addr", "address": addr}, nil
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 0)
	if err := h.ValidateDestination(context.Background(), "LTC", "good-addr", ""); err != nil {
		t.Errorf("good address rejected: %v", err)
	}
	err := h.ValidateDestination(context.Background(), "LTC", "bad-addr", "")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("bad address: expected ErrAccountNotFound, got %v", err)
	}
	if err := h.ValidateDestination(context.Background(), "DOGE", "good-addr", ""); err == nil {
		t.Error("unserviced coin should fail")
	}
}

func TestSendToAddress(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		switch call.Method {
		case "getbalance":
			return "100", nil
		case "sendtoaddress":
			return "out-txid", nil
		case "gettransaction":
			return map[string]any{"txid": "out-txid", "fee": "-0.0001"}, nil
		default:
			t.Errorf("unexpected method %s", call.Method)
			return nil, nil
		}
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 0)
	res, err := h.Send(context.Background(), domain.SendRequest{
		Coin: "LTC", Destination: "good-addr", Amount: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TxID != "out-txid" {
		t.Errorf("txid = %s", res.TxID)
	}
	// wallet reports fees negative, the result carries them positive
	if !res.NetworkFee.Equal(decimal.NewFromFloat(0.0001)) {
		t.Errorf("fee = %s", res.NetworkFee)
	}
}

func TestSendRefusalPaths(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		if call.Method == "getbalance" {
			return "1", nil
		}
		t.Errorf("send should not reach %s", call.Method)
		return nil, nil
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 0)
	_, err := h.Send(context.Background(), domain.SendRequest{
		Coin: "LTC", Destination: "addr", Amount: decimal.NewFromInt(5),
	})
	if !errors.Is(err, domain.ErrNotEnoughBalance) {
		t.Errorf("expected ErrNotEnoughBalance, got %v", err)
	}

	_, err = h.Send(context.Background(), domain.SendRequest{
		Coin: "LTC", Destination: "addr", Amount: decimal.NewFromInt(1), Issue: true,
	})
	if !errors.Is(err, domain.ErrIssueNotSupported) {
		t.Errorf("expected ErrIssueNotSupported, got %v", err)
	}
}

func TestRPCErrorIsSurfaced(t *testing.T) {
	srv := newRPCServer(t, func(call rpcCall) (any, *rpcError) {
		return nil, &rpcError{Code: -6, Message: "Insufficient funds"}
	})
	defer srv.Close()

	h := newTestHandler(t, srv, 0)
	_, err := h.LoadIncoming(context.Background(), "LTC")
	if !errors.Is(err, domain.ErrDeadAPI) {
		t.Errorf("expected ErrDeadAPI wrap, got %v", err)
	}
}
