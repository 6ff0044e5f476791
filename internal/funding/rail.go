// Package funding moves a funding request through the payment rail and
// credits the project once the rail reports a finished transfer.
package funding

import (
	"context"
	"errors"
	"math"
	"sync"
)

// MicroPerUnit converts whole payment units to the rail's micro units.
const MicroPerUnit = 1_000_000

// MaxAmount is the largest whole amount whose micro value fits an int64.
const MaxAmount = math.MaxInt64 / MicroPerUnit

// TransferRequest is what the rail is asked to move.
type TransferRequest struct {
	Network     string `json:"network"`
	Recipient   string `json:"recipient"`
	AmountMicro int64  `json:"amountMicro"`
	Memo        string `json:"memo"`
}

// Rail starts a transfer and later reports exactly one of its outcomes.
// onFinish may be called more than once with the same txID.
type Rail interface {
	Transfer(ctx context.Context, req TransferRequest, onFinish func(txID string), onCancel func()) error
}

// ErrUnknownTransfer is returned when resolving a transfer the rail does not hold.
var ErrUnknownTransfer = errors.New("unknown pending transfer")

type parked struct {
	req      TransferRequest
	onFinish func(txID string)
	onCancel func()
}

// CallbackRail parks transfers until the wallet reports back through
// Resolve or Reject. Transfer ids come from the context set by WithPendingID.
type CallbackRail struct {
	mu      sync.Mutex
	pending map[string]parked
}

func NewCallbackRail() *CallbackRail {
	return &CallbackRail{pending: make(map[string]parked)}
}

type pendingKey struct{}

// WithPendingID names the transfer a Transfer call will park.
func WithPendingID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pendingKey{}, id)
}

func (r *CallbackRail) Transfer(ctx context.Context, req TransferRequest, onFinish func(string), onCancel func()) error {
	id, _ := ctx.Value(pendingKey{}).(string)
	if id == "" {
		return errors.New("callback rail: missing pending id")
	}
	r.mu.Lock()
	r.pending[id] = parked{req: req, onFinish: onFinish, onCancel: onCancel}
	r.mu.Unlock()
	return nil
}

// Request returns the parked request for a pending id.
func (r *CallbackRail) Request(id string) (TransferRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	return p.req, ok
}

// Resolve reports a finished transfer. The entry stays parked so a repeated
// wallet callback reaches onFinish again, where it is deduplicated by txID.
func (r *CallbackRail) Resolve(id, txID string) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTransfer
	}
	p.onFinish(txID)
	return nil
}

// Reject reports a cancelled transfer and forgets it.
func (r *CallbackRail) Reject(id string) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTransfer
	}
	p.onCancel()
	return nil
}
