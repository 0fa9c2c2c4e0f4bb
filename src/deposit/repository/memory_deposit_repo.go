package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnikzad/tokengate/src/deposit/domain"
)

var _ domain.DepositRepository = (*MemoryRepo)(nil)
var _ domain.ConversionRepository = (*MemoryRepo)(nil)

// MemoryRepo keeps the ledger in process memory. Used in dev mode when no
// DATABASE_URL is set, and by the pipeline tests. Same CAS semantics as the
// postgres repo, guarded by one mutex.
type MemoryRepo struct {
	mu          sync.Mutex
	nextID      uint
	deposits    map[uint]*domain.Deposit
	identity    map[string]uint
	conversions map[uint]*domain.Conversion
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		nextID:      1,
		deposits:    map[uint]*domain.Deposit{},
		identity:    map[string]uint{},
		conversions: map[uint]*domain.Conversion{},
	}
}

func identityKey(coin, txid string, vout int, memo string) string {
	return fmt.Sprintf("%s|%s|%d|%s", coin, txid, vout, memo)
}

func (r *MemoryRepo) InsertIfNew(_ context.Context, d *domain.Deposit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(d.Coin, d.TxID, d.Vout, d.Memo)
	if _, exists := r.identity[key]; exists {
		return false, nil
	}
	cp := *d
	cp.ID = r.nextID
	cp.Status = domain.StatusNew
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.nextID++
	r.deposits[cp.ID] = &cp
	r.identity[key] = cp.ID

	d.ID = cp.ID
	d.Status = cp.Status
	return true, nil
}

func (r *MemoryRepo) Claim(_ context.Context, id uint, expected domain.DepositStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deposits[id]
	if !ok || d.Status != expected {
		return false, nil
	}
	d.Status = domain.StatusProcessing
	attempt := at
	d.LastAttempt = &attempt
	d.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepo) Finish(_ context.Context, id uint, to domain.DepositStatus, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deposits[id]
	if !ok || d.Status != domain.StatusProcessing {
		return false, nil
	}
	d.Status = to
	d.ErrorReason = reason
	if to == domain.StatusConverted {
		done := at
		d.ProcessedAt = &done
	}
	d.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryRepo) GetConvertible(_ context.Context, limit int) ([]domain.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Deposit
	for _, d := range r.deposits {
		if d.Status == domain.StatusNew || d.Status == domain.StatusErrored {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, d := range r.deposits {
		if d.Status == domain.StatusProcessing && d.LastAttempt != nil && d.LastAttempt.Before(cutoff) {
			d.Status = domain.StatusErrored
			d.ErrorReason = "claim expired"
			d.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uint) (*domain.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deposits[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepo) GetByStatus(_ context.Context, status domain.DepositStatus, limit int) ([]domain.Deposit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Deposit
	for _, d := range r.deposits {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) SaveConversion(_ context.Context, c *domain.Conversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conversions[c.DepositID]; exists {
		return fmt.Errorf("conversion for deposit %d already recorded", c.DepositID)
	}
	cp := *c
	cp.ID = r.nextID
	cp.CreatedAt = time.Now()
	r.nextID++
	r.conversions[cp.DepositID] = &cp

	c.ID = cp.ID
	c.CreatedAt = cp.CreatedAt
	return nil
}

func (r *MemoryRepo) GetConversionByDepositID(_ context.Context, depositID uint) (*domain.Conversion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversions[depositID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
