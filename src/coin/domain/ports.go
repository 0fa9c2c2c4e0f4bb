package domain

import (
	"context"
)

// ReferenceBook is the read-only view of coins, pairs and routes the
// pipelines work against. Built once at startup, never mutated during a run.
type ReferenceBook interface {
	Coin(symbol string) (*Coin, bool)
	EnabledCoins() []Coin
	Pair(from, to string) (*CoinPair, bool)
	PairsFrom(from string) []CoinPair
	Route(coin, address, memo string) (*DepositRoute, bool)
}

// CoinRepository persistence port. The database copy of the reference data
// exists for the querying/admin surfaces; the pipelines read the in-memory
// book.
type CoinRepository interface {
	UpsertCoins(ctx context.Context, coins []Coin) error
	UpsertPairs(ctx context.Context, pairs []CoinPair) error
}
