package registry

import (
	"fmt"
	"strings"

	coindomain "github.com/mnikzad/tokengate/src/coin/domain"
	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
)

// Registry binds coin symbols to handler instances. Built once at startup and
// read-only afterwards; injected into the pipelines rather than kept global.
type Registry struct {
	log     *logger.Logger
	byName  map[string]domain.Handler
	byCoin  map[string]domain.Handler
	ordered []domain.Handler
}

// New registers the enabled handler instances. Two handlers claiming the same
// coin, or two instances sharing a name, is a startup error.
func New(log *logger.Logger, handlers ...domain.Handler) (*Registry, error) {
	r := &Registry{
		log:    log,
		byName: map[string]domain.Handler{},
		byCoin: map[string]domain.Handler{},
	}
	for _, h := range handlers {
		if _, dup := r.byName[h.Name()]; dup {
			return nil, fmt.Errorf("handler %q registered twice", h.Name())
		}
		r.byName[h.Name()] = h
		r.ordered = append(r.ordered, h)
		for _, coin := range h.Coins() {
			coin = strings.ToUpper(coin)
			if prev, dup := r.byCoin[coin]; dup {
				return nil, fmt.Errorf("coin %s claimed by both %q and %q",
					coin, prev.Name(), h.Name())
			}
			r.byCoin[coin] = h
		}
		log.Infof("Handler %q registered: coins=%v capabilities=%v",
			h.Name(), h.Coins(), h.Provides())
	}
	return r, nil
}

// CheckBindings verifies every enabled coin is bound to a registered handler
// that actually claims it.
func (r *Registry) CheckBindings(coins []coindomain.Coin) error {
	for _, c := range coins {
		h, ok := r.byName[c.Handler]
		if !ok {
			return fmt.Errorf("coin %s is bound to unregistered handler %q", c.Symbol, c.Handler)
		}
		if got, ok := r.byCoin[c.Symbol]; !ok || got != h {
			return fmt.Errorf("coin %s is bound to handler %q which does not claim it", c.Symbol, c.Handler)
		}
	}
	return nil
}

// Handlers returns every registered instance in registration order.
func (r *Registry) Handlers() []domain.Handler {
	return r.ordered
}

func (r *Registry) ForCoin(symbol string) (domain.Handler, bool) {
	h, ok := r.byCoin[strings.ToUpper(symbol)]
	return h, ok
}

// ManagerFor returns the manager responsible for paying out the given coin.
func (r *Registry) ManagerFor(symbol string) (domain.Manager, bool) {
	h, ok := r.byCoin[strings.ToUpper(symbol)]
	if !ok {
		return nil, false
	}
	m, ok := h.(domain.Manager)
	return m, ok
}
