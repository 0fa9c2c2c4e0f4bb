package usecase

import (
	"testing"

	"github.com/mnikzad/tokengate/src/config"
	"github.com/mnikzad/tokengate/src/logger"
)

func baseConfig() *config.Config {
	return &config.Config{
		Env:               "dev",
		DefaultFeePercent: "1",
		Handlers:          []string{"mock"},
		Coins: []config.CoinConfig{
			{Symbol: "LTC", Handler: "mock", Mode: "address", NetworkFee: "0.001"},
			{Symbol: "SGTK", Handler: "mock", Mode: "account", OurAccount: "gateway-in", NetworkFee: "0.2"},
			{Symbol: "STEEMP", Handler: "mock", Mode: "account", OurAccount: "gateway-in"},
		},
		Pairs: []config.PairConfig{
			{From: "LTC", To: "SGTK", Rate: "0.5", FeePercent: "1"},
			{From: "STEEMP", To: "SGTK", Rate: "1"},
		},
		Routes: []config.RouteConfig{
			{Coin: "LTC", Address: "ltc-addr", DestinationCoin: "SGTK",
				DestinationAddress: "someguy", DestinationMemo: "hi"},
		},
	}
}

func TestNewBookAndLookups(t *testing.T) {
	book, err := NewBook(baseConfig(), logger.New("dev"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c, ok := book.Coin("ltc"); !ok || c.Symbol != "LTC" {
		t.Errorf("Coin(ltc) = %v, %v", c, ok)
	}
	if len(book.EnabledCoins()) != 3 {
		t.Errorf("EnabledCoins() = %d, want 3", len(book.EnabledCoins()))
	}
	p, ok := book.Pair("LTC", "SGTK")
	if !ok {
		t.Fatal("Pair(LTC, SGTK) missing")
	}
	if !p.Fixed() {
		t.Error("fixed-rate pair reported as dynamic")
	}
	if got := len(book.PairsFrom("STEEMP")); got != 1 {
		t.Errorf("PairsFrom(STEEMP) = %d, want 1", got)
	}

	r, ok := book.Route("LTC", "ltc-addr", "")
	if !ok || r.DestinationAddress != "someguy" {
		t.Errorf("Route lookup = %v, %v", r, ok)
	}
	// memo-less entry also matches deposits that carry a memo
	if _, ok := book.Route("LTC", "ltc-addr", "whatever"); !ok {
		t.Error("memoed deposit should fall back to the memo-less route")
	}
	if _, ok := book.Route("LTC", "unknown-addr", ""); ok {
		t.Error("unknown address should miss")
	}
}

func TestNewBookRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"duplicate coin", func(c *config.Config) {
			c.Coins = append(c.Coins, config.CoinConfig{Symbol: "ltc", Handler: "mock", Mode: "address"})
		}},
		{"bad mode", func(c *config.Config) { c.Coins[0].Mode = "wat" }},
		{"account coin without account", func(c *config.Config) { c.Coins[1].OurAccount = "" }},
		{"coin without handler", func(c *config.Config) { c.Coins[0].Handler = "" }},
		{"pair to itself", func(c *config.Config) {
			c.Pairs = append(c.Pairs, config.PairConfig{From: "LTC", To: "LTC", Rate: "1"})
		}},
		{"pair with unknown leg", func(c *config.Config) {
			c.Pairs = append(c.Pairs, config.PairConfig{From: "LTC", To: "DOGE", Rate: "1"})
		}},
		{"duplicate pair", func(c *config.Config) {
			c.Pairs = append(c.Pairs, config.PairConfig{From: "LTC", To: "SGTK", Rate: "2"})
		}},
		{"pair without rate or source", func(c *config.Config) { c.Pairs[0].Rate = "" }},
		{"pair with rate and source", func(c *config.Config) { c.Pairs[0].RateSource = "internal" }},
		{"non-positive rate", func(c *config.Config) { c.Pairs[0].Rate = "0" }},
		{"unknown rate source", func(c *config.Config) {
			c.Pairs[0].Rate = ""
			c.Pairs[0].RateSource = "nope"
		}},
		{"negative fee", func(c *config.Config) { c.Pairs[0].FeePercent = "-1" }},
		{"route without pair", func(c *config.Config) {
			c.Routes = append(c.Routes, config.RouteConfig{
				Coin: "SGTK", Address: "x", DestinationCoin: "LTC", DestinationAddress: "y",
			})
		}},
		{"route without destination address", func(c *config.Config) {
			c.Routes[0].DestinationAddress = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			if _, err := NewBook(cfg, logger.New("dev")); err == nil {
				t.Error("expected a config error")
			}
		})
	}
}
