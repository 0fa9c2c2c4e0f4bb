package mock

import (
	"context"
	"sync/atomic"

	"github.com/mnikzad/tokengate/src/handler/domain"
	"github.com/mnikzad/tokengate/src/logger"
)

var _ domain.BatchLoader = (*BatchHandler)(nil)
var _ domain.BatchManager = (*BatchHandler)(nil)

// BatchHandler layers the batch capabilities over Handler and counts the
// batch round trips, so pipeline tests can assert the amortized paths run.
type BatchHandler struct {
	*Handler

	batchLoads     atomic.Int32
	batchValidates atomic.Int32
}

func NewBatchHandler(name string, logger *logger.Logger, coins ...string) *BatchHandler {
	return &BatchHandler{Handler: NewHandler(name, logger, coins...)}
}

func (h *BatchHandler) Provides() []string {
	return []string{domain.CapLoader, domain.CapBatchLoader, domain.CapManager, domain.CapBatchManager}
}

// BatchLoadCalls reports how many times LoadIncomingBatch ran.
func (h *BatchHandler) BatchLoadCalls() int { return int(h.batchLoads.Load()) }

// BatchValidateCalls reports how many times ValidateDestinations ran.
func (h *BatchHandler) BatchValidateCalls() int { return int(h.batchValidates.Load()) }

func (h *BatchHandler) LoadIncomingBatch(ctx context.Context, coins []string) ([]domain.RawTx, error) {
	h.batchLoads.Add(1)
	var out []domain.RawTx
	for _, coin := range coins {
		txs, err := h.Handler.LoadIncoming(ctx, coin)
		if err != nil {
			return nil, err
		}
		out = append(out, txs...)
	}
	return out, nil
}

func (h *BatchHandler) ValidateDestinations(ctx context.Context, reqs []domain.ValidateRequest) []error {
	h.batchValidates.Add(1)
	out := make([]error, len(reqs))
	for i, req := range reqs {
		out[i] = h.Handler.ValidateDestination(ctx, req.Coin, req.Destination, req.Memo)
	}
	return out
}
