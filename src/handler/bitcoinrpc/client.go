// Package bitcoinrpc implements the deposit handler for bitcoind-compatible
// daemons (Bitcoin, Litecoin, Dogecoin and friends share the same wallet RPC).
//
// Coverage:
// - listtransactions for incoming deposit discovery
// - validateaddress for destination checks
// - sendtoaddress + gettransaction for payouts
//
// Notes:
// - The daemon speaks JSON-RPC 1.0 over HTTP with basic auth
// - Responses follow a {result, error, id} envelope; a non-null error field
//   is returned as a Go error enriched with the RPC message
package bitcoinrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var DefaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

type Client struct {
	URL      string
	User     string
	Password string
	HTTP     *http.Client
	Logger   zerolog.Logger
}

type Option func(*Client)

func WithAuth(user, pass string) Option    { return func(c *Client) { c.User, c.Password = user, pass } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }
func WithLogger(l zerolog.Logger) Option   { return func(c *Client) { c.Logger = l } }

func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("rpc url is required")
	}
	c := &Client{
		URL:    url,
		HTTP:   DefaultHTTPClient,
		Logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope[T any] struct {
	Result T         `json:"result"`
	Error  *rpcError `json:"error"`
	ID     string    `json:"id"`
}

func (c *Client) do(ctx context.Context, method string, params []interface{}, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "tokengate",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.User != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	c.Logger.Info().
		Str("method", method).
		Int("status", resp.StatusCode).
		Str("duration", time.Since(start).String()).
		Msg("bitcoind rpc call")

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func doRPC[T any](c *Client, ctx context.Context, method string, params ...interface{}) (T, error) {
	var env rpcEnvelope[T]
	if err := c.do(ctx, method, params, &env); err != nil {
		return env.Result, err
	}
	if env.Error != nil {
		return env.Result, fmt.Errorf("rpc %s: code %d: %s", method, env.Error.Code, env.Error.Message)
	}
	return env.Result, nil
}

// --- Wallet RPC ---

// Transaction is one entry from listtransactions.
type Transaction struct {
	Category      string          `json:"category"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Vout          int             `json:"vout"`
	Confirmations int             `json:"confirmations"`
	Trusted       bool            `json:"trusted"`
	Generated     bool            `json:"generated"`
	TxID          string          `json:"txid"`
	Time          int64           `json:"time"`
}

// ListTransactions returns the most recent count wallet transactions across
// all accounts, oldest first.
func (c *Client) ListTransactions(ctx context.Context, count int) ([]Transaction, error) {
	return doRPC[[]Transaction](c, ctx, "listtransactions", "*", count)
}

type AddressInfo struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (*AddressInfo, error) {
	info, err := doRPC[AddressInfo](c, ctx, "validateaddress", address)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// SendToAddress pays amount to address and returns the new txid.
func (c *Client) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	return doRPC[string](c, ctx, "sendtoaddress", address, amount)
}

type WalletTx struct {
	TxID string          `json:"txid"`
	Fee  decimal.Decimal `json:"fee"`
}

// GetTransaction fetches a wallet transaction, used to read the actual fee
// paid by sendtoaddress.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*WalletTx, error) {
	tx, err := doRPC[WalletTx](c, ctx, "gettransaction", txid)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return doRPC[decimal.Decimal](c, ctx, "getbalance")
}
