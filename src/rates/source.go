package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fixed is a test and fallback source that always returns the same rate.
type Fixed struct {
	name string
	rate decimal.Decimal
}

func NewFixed(name string, rate decimal.Decimal) *Fixed {
	return &Fixed{name: name, rate: rate}
}

func (f *Fixed) Name() string { return f.name }

func (f *Fixed) Rate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	return f.rate, nil
}

// HTTPSource fetches rates from a JSON endpoint. The URL carries {from} and
// {to} placeholders; the response body is {"rate": "0.5"} with the rate as a
// JSON string or number. Responses are cached per pair for the configured TTL
// so a large conversion batch does not hammer the endpoint.
type HTTPSource struct {
	name   string
	url    string
	ttl    time.Duration
	client *http.Client

	mu    sync.Mutex
	cache map[string]cachedRate
}

type cachedRate struct {
	rate    decimal.Decimal
	fetched time.Time
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

func NewHTTPSource(name, url string, ttl time.Duration) *HTTPSource {
	return &HTTPSource{
		name: name,
		url:  url,
		ttl:  ttl,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: map[string]cachedRate{},
	}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := from + "/" + to

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && time.Since(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.rate, nil
	}
	s.mu.Unlock()

	url := strings.NewReplacer("{from}", from, "{to}", to).Replace(s.url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch rate for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate endpoint returned status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate response: %w", err)
	}
	// A bad rate must not be cached, or every conversion of the pair stays
	// broken until the TTL expires.
	if parsed.Rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("rate endpoint returned non-positive rate %s for %s", parsed.Rate, key)
	}

	s.mu.Lock()
	s.cache[key] = cachedRate{rate: parsed.Rate, fetched: time.Now()}
	s.mu.Unlock()

	return parsed.Rate, nil
}
