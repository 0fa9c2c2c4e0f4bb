package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mnikzad/tokengate/src/deposit/domain"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ domain.DepositRepository = (*DepositRepo)(nil)
var _ domain.ConversionRepository = (*DepositRepo)(nil)

// ---------- MODELS ----------
// gorm.Model includes:
// ID        uint `gorm:"primarykey"`
// CreatedAt time.Time
// UpdatedAt time.Time
// DeletedAt gorm.DeletedAt `gorm:"index"`
//
// The dedup index spans (coin, txid, vout, memo): address chains store
// vout with memo='', account ledgers store memo with vout=0, so one index
// covers both identity schemes.
type Deposit struct {
	gorm.Model

	Coin        string          `gorm:"not null;uniqueIndex:uidx_deposit_identity"`
	TxID        string          `gorm:"not null;uniqueIndex:uidx_deposit_identity"`
	Vout        int             `gorm:"not null;default:0;uniqueIndex:uidx_deposit_identity"`
	Memo        string          `gorm:"not null;default:'';uniqueIndex:uidx_deposit_identity"`
	Address     string
	FromAccount string
	ToAccount   string
	Amount      decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	TxTimestamp time.Time

	Status      string     `gorm:"not null;index"`
	ErrorReason string
	LastAttempt *time.Time
	ProcessedAt *time.Time
}

type Conversion struct {
	gorm.Model

	DepositID   uint            `gorm:"not null;uniqueIndex:uidx_conversion_deposit"`
	FromCoin    string          `gorm:"not null"`
	ToCoin      string          `gorm:"not null"`
	FromAddress string
	ToAddress   string          `gorm:"not null"`
	ToMemo      string
	AmountSent  decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	ExchangeFee decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	NetworkFee  decimal.Decimal `gorm:"type:numeric(40,18);not null"`
	TxID        string
}

// ---------- REPO ----------

type DepositRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDepositRepo(db *gorm.DB, log *logger.Logger) *DepositRepo {
	if err := db.AutoMigrate(&Deposit{}, &Conversion{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	return &DepositRepo{db: db, log: log}
}

// ---------- DEPOSITS ----------

func (r *DepositRepo) InsertIfNew(ctx context.Context, d *domain.Deposit) (bool, error) {
	model := Deposit{
		Coin:        d.Coin,
		TxID:        d.TxID,
		Vout:        d.Vout,
		Memo:        d.Memo,
		Address:     d.Address,
		FromAccount: d.FromAccount,
		ToAccount:   d.ToAccount,
		Amount:      d.Amount,
		TxTimestamp: d.TxTimestamp,
		Status:      string(domain.StatusNew),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	d.ID = model.ID
	d.Status = domain.StatusNew
	return true, nil
}

func (r *DepositRepo) Claim(ctx context.Context, id uint, expected domain.DepositStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Deposit{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(map[string]interface{}{
			"status":       string(domain.StatusProcessing),
			"last_attempt": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *DepositRepo) Finish(ctx context.Context, id uint, to domain.DepositStatus, reason string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":       string(to),
		"error_reason": reason,
	}
	if to == domain.StatusConverted {
		updates["processed_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&Deposit{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *DepositRepo) GetConvertible(ctx context.Context, limit int) ([]domain.Deposit, error) {
	var models []Deposit
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.StatusNew), string(domain.StatusErrored)}).
		Order("id asc").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainDeposits(models), nil
}

func (r *DepositRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Deposit{}).
		Where("status = ? AND last_attempt < ?", string(domain.StatusProcessing), cutoff).
		Updates(map[string]interface{}{
			"status":       string(domain.StatusErrored),
			"error_reason": "claim expired",
		})
	return res.RowsAffected, res.Error
}

func (r *DepositRepo) GetByID(ctx context.Context, id uint) (*domain.Deposit, error) {
	var m Deposit
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomainDeposit(&m), nil
}

func (r *DepositRepo) GetByStatus(ctx context.Context, status domain.DepositStatus, limit int) ([]domain.Deposit, error) {
	var models []Deposit
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("id asc").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return r.toDomainDeposits(models), nil
}

// ---------- CONVERSIONS ----------

func (r *DepositRepo) SaveConversion(ctx context.Context, c *domain.Conversion) error {
	model := Conversion{
		DepositID:   c.DepositID,
		FromCoin:    c.FromCoin,
		ToCoin:      c.ToCoin,
		FromAddress: c.FromAddress,
		ToAddress:   c.ToAddress,
		ToMemo:      c.ToMemo,
		AmountSent:  c.AmountSent,
		ExchangeFee: c.ExchangeFee,
		NetworkFee:  c.NetworkFee,
		TxID:        c.TxID,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	c.ID = model.ID
	c.CreatedAt = model.CreatedAt
	return nil
}

func (r *DepositRepo) GetConversionByDepositID(ctx context.Context, depositID uint) (*domain.Conversion, error) {
	var m Conversion
	if err := r.db.WithContext(ctx).
		Where("deposit_id = ?", depositID).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomainConversion(&m), nil
}

// ---------- MAPPERS ----------

func (r *DepositRepo) toDomainDeposit(m *Deposit) *domain.Deposit {
	return &domain.Deposit{
		ID:          m.ID,
		Coin:        m.Coin,
		TxID:        m.TxID,
		Vout:        m.Vout,
		Address:     m.Address,
		FromAccount: m.FromAccount,
		ToAccount:   m.ToAccount,
		Memo:        m.Memo,
		Amount:      m.Amount,
		TxTimestamp: m.TxTimestamp,
		Status:      domain.DepositStatus(m.Status),
		ErrorReason: m.ErrorReason,
		LastAttempt: m.LastAttempt,
		ProcessedAt: m.ProcessedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (r *DepositRepo) toDomainDeposits(models []Deposit) []domain.Deposit {
	out := make([]domain.Deposit, 0, len(models))
	for i := range models {
		out = append(out, *r.toDomainDeposit(&models[i]))
	}
	return out
}

func (r *DepositRepo) toDomainConversion(m *Conversion) *domain.Conversion {
	return &domain.Conversion{
		ID:          m.ID,
		DepositID:   m.DepositID,
		FromCoin:    m.FromCoin,
		ToCoin:      m.ToCoin,
		FromAddress: m.FromAddress,
		ToAddress:   m.ToAddress,
		ToMemo:      m.ToMemo,
		AmountSent:  m.AmountSent,
		ExchangeFee: m.ExchangeFee,
		NetworkFee:  m.NetworkFee,
		TxID:        m.TxID,
		CreatedAt:   m.CreatedAt,
	}
}
