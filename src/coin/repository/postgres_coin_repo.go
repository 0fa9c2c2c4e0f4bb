package repository

import (
	"context"

	"github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ domain.CoinRepository = (*Repo)(nil)

// ---------- MODELS ----------

type Coin struct {
	gorm.Model
	Symbol          string          `gorm:"not null;uniqueIndex:uidx_coin_symbol"`
	DisplayName     string          `gorm:"not null"`
	Handler         string          `gorm:"not null"`
	Mode            string          `gorm:"not null"`
	OurAccount      string
	NetworkFee      decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	CanIssue        bool            `gorm:"not null;default:false"`
	Enabled         bool            `gorm:"not null;default:true"`
	ContractAddress string
}

type CoinPair struct {
	gorm.Model
	FromCoin   string          `gorm:"not null;uniqueIndex:uidx_pair"`
	ToCoin     string          `gorm:"not null;uniqueIndex:uidx_pair"`
	Rate       decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	RateSource string
	FeePercent decimal.Decimal `gorm:"type:numeric(40,18);not null"`
}

// ---------- REPO ----------

type Repo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, log *logger.Logger) *Repo {
	if err := db.AutoMigrate(&Coin{}, &CoinPair{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	return &Repo{db: db, log: log}
}

// UpsertCoins mirrors the configured coins into the database, keyed by symbol.
func (r *Repo) UpsertCoins(ctx context.Context, coins []domain.Coin) error {
	if len(coins) == 0 {
		return nil
	}
	var models []Coin
	for _, c := range coins {
		models = append(models, Coin{
			Symbol:          c.Symbol,
			DisplayName:     c.DisplayName,
			Handler:         c.Handler,
			Mode:            string(c.Mode),
			OurAccount:      c.OurAccount,
			NetworkFee:      c.NetworkFee,
			CanIssue:        c.CanIssue,
			Enabled:         c.Enabled,
			ContractAddress: c.ContractAddress,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "handler", "mode", "our_account",
				"network_fee", "can_issue", "enabled", "contract_address", "updated_at",
			}),
		}).
		Create(&models).Error
}

// UpsertPairs mirrors the configured pairs, keyed by (from_coin, to_coin).
func (r *Repo) UpsertPairs(ctx context.Context, pairs []domain.CoinPair) error {
	if len(pairs) == 0 {
		return nil
	}
	var models []CoinPair
	for _, p := range pairs {
		models = append(models, CoinPair{
			FromCoin:   p.FromCoin,
			ToCoin:     p.ToCoin,
			Rate:       p.Rate,
			RateSource: p.RateSource,
			FeePercent: p.FeePercent,
		})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "from_coin"}, {Name: "to_coin"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"rate", "rate_source", "fee_percent", "updated_at",
			}),
		}).
		Create(&models).Error
}
