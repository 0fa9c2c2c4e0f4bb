package repository

import (
	"context"
	"testing"
	"time"

	"github.com/mnikzad/tokengate/src/deposit/domain"
	"github.com/shopspring/decimal"
)

func TestInsertIfNewDeduplicatesByVout(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	d := &domain.Deposit{Coin: "LTC", TxID: "tx1", Vout: 0, Address: "addr", Amount: decimal.New(1, 0)}
	created, err := repo.InsertIfNew(ctx, d)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	if d.ID == 0 || d.Status != domain.StatusNew {
		t.Errorf("insert should assign id and NEW status, got %+v", d)
	}

	dup := &domain.Deposit{Coin: "LTC", TxID: "tx1", Vout: 0, Address: "addr", Amount: decimal.New(1, 0)}
	created, err = repo.InsertIfNew(ctx, dup)
	if err != nil || created {
		t.Errorf("duplicate insert: created=%v err=%v", created, err)
	}

	// same txid, different output
	other := &domain.Deposit{Coin: "LTC", TxID: "tx1", Vout: 1, Address: "addr", Amount: decimal.New(2, 0)}
	created, err = repo.InsertIfNew(ctx, other)
	if err != nil || !created {
		t.Errorf("different vout should insert: created=%v err=%v", created, err)
	}
}

func TestInsertIfNewDeduplicatesByMemo(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	a := &domain.Deposit{Coin: "SGTK", TxID: "tx1", Memo: "SGTK someguy", Amount: decimal.New(1, 0)}
	if created, _ := repo.InsertIfNew(ctx, a); !created {
		t.Fatal("first insert should create")
	}
	dup := &domain.Deposit{Coin: "SGTK", TxID: "tx1", Memo: "SGTK someguy", Amount: decimal.New(1, 0)}
	if created, _ := repo.InsertIfNew(ctx, dup); created {
		t.Error("same txid+memo should dedup")
	}
	other := &domain.Deposit{Coin: "SGTK", TxID: "tx1", Memo: "SGTK otherguy", Amount: decimal.New(1, 0)}
	if created, _ := repo.InsertIfNew(ctx, other); !created {
		t.Error("different memo should insert")
	}
}

func TestClaimIsCompareAndSwap(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	d := &domain.Deposit{Coin: "LTC", TxID: "tx1", Amount: decimal.New(1, 0)}
	repo.InsertIfNew(ctx, d)

	now := time.Now()
	ok, err := repo.Claim(ctx, d.ID, domain.StatusNew, now)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	// second claim loses: status is PROCESSING, not NEW
	ok, _ = repo.Claim(ctx, d.ID, domain.StatusNew, now)
	if ok {
		t.Error("second claim should lose")
	}

	got, _ := repo.GetByID(ctx, d.ID)
	if got.Status != domain.StatusProcessing || got.LastAttempt == nil {
		t.Errorf("claimed deposit = %+v", got)
	}
}

func TestFinishOnlyFromProcessing(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	d := &domain.Deposit{Coin: "LTC", TxID: "tx1", Amount: decimal.New(1, 0)}
	repo.InsertIfNew(ctx, d)

	if ok, _ := repo.Finish(ctx, d.ID, domain.StatusConverted, "", time.Now()); ok {
		t.Error("finish without a claim should fail")
	}

	repo.Claim(ctx, d.ID, domain.StatusNew, time.Now())
	if ok, _ := repo.Finish(ctx, d.ID, domain.StatusConverted, "", time.Now()); !ok {
		t.Error("finish after claim should succeed")
	}
	got, _ := repo.GetByID(ctx, d.ID)
	if got.Status != domain.StatusConverted || got.ProcessedAt == nil {
		t.Errorf("converted deposit = %+v", got)
	}
}

func TestGetConvertibleAndReclaim(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	fresh := &domain.Deposit{Coin: "LTC", TxID: "fresh", Amount: decimal.New(1, 0)}
	retry := &domain.Deposit{Coin: "LTC", TxID: "retry", Amount: decimal.New(1, 0)}
	stuck := &domain.Deposit{Coin: "LTC", TxID: "stuck", Amount: decimal.New(1, 0)}
	for _, d := range []*domain.Deposit{fresh, retry, stuck} {
		repo.InsertIfNew(ctx, d)
	}

	repo.Claim(ctx, retry.ID, domain.StatusNew, time.Now())
	repo.Finish(ctx, retry.ID, domain.StatusErrored, "backend down", time.Now())

	// stuck got claimed an hour ago and its worker died
	repo.Claim(ctx, stuck.ID, domain.StatusNew, time.Now().Add(-time.Hour))

	got, err := repo.GetConvertible(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("convertible = %d deposits, want 2 (NEW + ERRORED)", len(got))
	}
	if got[0].ID > got[1].ID {
		t.Error("convertible deposits should come oldest first")
	}

	n, err := repo.ReclaimStale(ctx, time.Now().Add(-30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("reclaim = %d, %v, want 1 reclaimed", n, err)
	}
	after, _ := repo.GetByID(ctx, stuck.ID)
	if after.Status != domain.StatusErrored {
		t.Errorf("reclaimed deposit status = %s, want ERRORED", after.Status)
	}

	got, _ = repo.GetConvertible(ctx, 0)
	if len(got) != 3 {
		t.Errorf("convertible after reclaim = %d, want 3", len(got))
	}
}

func TestSaveConversionOncePerDeposit(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	c := &domain.Conversion{DepositID: 7, FromCoin: "LTC", ToCoin: "SGTK", AmountSent: decimal.New(1, 0)}
	if err := repo.SaveConversion(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.SaveConversion(ctx, &domain.Conversion{DepositID: 7}); err == nil {
		t.Error("second conversion for the same deposit should fail")
	}

	got, _ := repo.GetConversionByDepositID(ctx, 7)
	if got == nil || got.ToCoin != "SGTK" {
		t.Errorf("conversion lookup = %+v", got)
	}
}
