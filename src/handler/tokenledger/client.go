// Package tokenledger implements the deposit handler for account-based token
// ledgers fronted by the ledger gateway's REST API. One API serves every
// token on the chain, so loading and validation are batched.
//
// Notes:
// - API responses follow a {result, message, success} envelope pattern
// - When success != true, this client returns an error enriched with the message
// - Requires Authorization: Bearer token when one is configured
package tokenledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var DefaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

func NewClient(baseUrl string, opts ...Option) (*Client, error) {
	if baseUrl == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		BaseURL: u,
		HTTP:    DefaultHTTPClient,
		Logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type Option func(*Client)

func WithToken(token string) Option        { return func(c *Client) { c.Token = token } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }
func WithLogger(l zerolog.Logger) Option   { return func(c *Client) { c.Logger = l } }

type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
	Token   string
	Logger  zerolog.Logger
}

// ResponseEnvelope is the standard response structure from the ledger API
type ResponseEnvelope[T any] struct {
	Result  T      `json:"result"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Transfer is one ledger movement involving one of our accounts.
type Transfer struct {
	TxID      string          `json:"txid"`
	Coin      string          `json:"coin"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Memo      string          `json:"memo"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type Account struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Coin   string          `json:"coin"`
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo,omitempty"`
	// Issue mints new supply instead of moving existing balance.
	Issue bool `json:"issue,omitempty"`
}

type TransferResult struct {
	TxID string          `json:"txid"`
	Fee  decimal.Decimal `json:"fee"`
}

// --- Endpoints ---

// IncomingTransfers lists transfers into account for the given coins since
// the API's retention window. Duplicates across calls are expected.
func (c *Client) IncomingTransfers(ctx context.Context, account string, coins []string) ([]Transfer, error) {
	query := url.Values{}
	query.Set("account", account)
	for _, coin := range coins {
		query.Add("coin", coin)
	}
	result, err := doJSON[struct {
		Transfers []Transfer `json:"transfers"`
	}](c, ctx, http.MethodGet, "/v1/transfers/incoming", query, nil)
	if err != nil {
		return nil, err
	}
	return result.Transfers, nil
}

func (c *Client) GetAccount(ctx context.Context, name string) (*Account, error) {
	query := url.Values{}
	query.Set("name", name)
	result, err := doJSON[Account](c, ctx, http.MethodGet, "/v1/accounts", query, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAccounts resolves many account names in one round trip. Missing names
// come back with Exists=false.
func (c *Client) GetAccounts(ctx context.Context, names []string) ([]Account, error) {
	result, err := doJSON[struct {
		Accounts []Account `json:"accounts"`
	}](c, ctx, http.MethodPost, "/v1/accounts/lookup", nil, map[string]interface{}{"names": names})
	if err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

func (c *Client) GetBalance(ctx context.Context, account, coin string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("account", account)
	query.Set("coin", coin)
	result, err := doJSON[struct {
		Balance decimal.Decimal `json:"balance"`
	}](c, ctx, http.MethodGet, "/v1/balances", query, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return result.Balance, nil
}

func (c *Client) SubmitTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	result, err := doJSON[TransferResult](c, ctx, http.MethodPost, "/v1/transfers", nil, req)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Transport ---

func (c *Client) do(ctx context.Context, method, p string, q url.Values, body any, out any) error {
	u := *c.BaseURL
	u.Path = path.Join(u.Path, p)
	u.RawQuery = q.Encode()

	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
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
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Str("duration", time.Since(start).String()).
		Msg("token ledger api call")

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func doJSON[T any](c *Client, ctx context.Context, method, path string, query url.Values, body any) (T, error) {
	var env ResponseEnvelope[T]
	if err := c.do(ctx, method, path, query, body, &env); err != nil {
		return env.Result, err
	}
	if !env.Success {
		return env.Result, fmt.Errorf("ledger api %s %s: %s", method, path, env.Message)
	}
	return env.Result, nil
}
