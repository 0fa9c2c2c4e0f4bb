package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mnikzad/tokengate/src/logger"
	"github.com/mnikzad/tokengate/src/runlock/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ domain.LockRepository = (*LockRepo)(nil)

type Lock struct {
	Name      string    `gorm:"primarykey"`
	Token     uuid.UUID `gorm:"not null"`
	CreatedAt time.Time
}

type LockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLockRepo(db *gorm.DB, log *logger.Logger) *LockRepo {
	if err := db.AutoMigrate(&Lock{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	return &LockRepo{db: db, log: log}
}

func (r *LockRepo) Acquire(ctx context.Context, l *domain.Lock) (bool, error) {
	model := Lock{Name: l.Name, Token: l.Token}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *LockRepo) Release(ctx context.Context, l *domain.Lock) error {
	return r.db.WithContext(ctx).
		Where("name = ? AND token = ?", l.Name, l.Token).
		Delete(&Lock{}).Error
}
