package registry

import (
	"strings"
	"testing"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/handler/mock"
	"github.com/mnikzad/tokengate/src/logger"
)

func TestRegistryResolvesCoins(t *testing.T) {
	logg := logger.New("dev")
	btc := mock.NewHandler("btc-backend", logg, "BTC", "LTC")
	ledger := mock.NewHandler("ledger", logg, "SGTK")

	reg, err := New(logg, btc, ledger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h, ok := reg.ForCoin("ltc")
	if !ok || h.Name() != "btc-backend" {
		t.Errorf("ForCoin(ltc) = %v, want btc-backend", h)
	}
	if _, ok := reg.ForCoin("DOGE"); ok {
		t.Error("ForCoin(DOGE) should miss")
	}
	if m, ok := reg.ManagerFor("SGTK"); !ok || m.Name() != "ledger" {
		t.Errorf("ManagerFor(SGTK) = %v, want ledger", m)
	}
	if got := len(reg.Handlers()); got != 2 {
		t.Errorf("Handlers() len = %d, want 2", got)
	}
}

func TestRegistryRejectsDuplicateCoinClaim(t *testing.T) {
	logg := logger.New("dev")
	a := mock.NewHandler("a", logg, "BTC")
	b := mock.NewHandler("b", logg, "btc")

	_, err := New(logg, a, b)
	if err == nil {
		t.Fatal("expected error for duplicate coin claim")
	}
	if !strings.Contains(err.Error(), "BTC") {
		t.Errorf("error should name the coin, got %v", err)
	}
}

func TestRegistryRejectsDuplicateHandlerName(t *testing.T) {
	logg := logger.New("dev")
	a := mock.NewHandler("same", logg, "BTC")
	b := mock.NewHandler("same", logg, "LTC")

	if _, err := New(logg, a, b); err == nil {
		t.Fatal("expected error for duplicate handler name")
	}
}

func TestCheckBindings(t *testing.T) {
	logg := logger.New("dev")
	reg, err := New(logg, mock.NewHandler("ledger", logg, "SGTK"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	good := []coindomain.Coin{{Symbol: "SGTK", Handler: "ledger"}}
	if err := reg.CheckBindings(good); err != nil {
		t.Errorf("good binding rejected: %v", err)
	}

	missing := []coindomain.Coin{{Symbol: "BTC", Handler: "nope"}}
	if err := reg.CheckBindings(missing); err == nil {
		t.Error("expected error for unregistered handler")
	}

	unclaimed := []coindomain.Coin{{Symbol: "BTC", Handler: "ledger"}}
	if err := reg.CheckBindings(unclaimed); err == nil {
		t.Error("expected error for coin the handler does not claim")
	}
}
