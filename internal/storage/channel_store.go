package storage

import (
	"context"
	"errors"
	"fundchat/backend/internal/models"
	"sync"
)

var (
	// ErrChannelClosed is returned for operations on a released handle.
	ErrChannelClosed = errors.New("channel handle closed")
	// ErrEmptyChannelKey is returned when opening a channel without a key.
	ErrEmptyChannelKey = errors.New("empty channel key")
)

// ChannelPath returns the store path of a project's chat channel.
func ChannelPath(projectUID string) string {
	return "chats/" + projectUID
}

// Unsubscribe stops a subscription. Once it returns, the subscription's
// callback is not invoked again. It must not be called from that callback.
type Unsubscribe func()

// OnRecord receives a record together with its store-assigned identity.
type OnRecord func(rec models.Record, id string)

// ChannelStore is a shared, multi-writer, replicated record store addressed
// by channel path.
//
// Subscribe first delivers every record the store knows for the channel, in
// no particular order, then keeps delivering records appended by any writer,
// including the subscriber's own writes. Delivery is at-least-once: the same
// id may arrive more than once. Calls to the callback of one subscription are
// serialized.
type ChannelStore interface {
	Open(key string) (*ChannelHandle, error)
	Subscribe(ctx context.Context, h *ChannelHandle, onRecord OnRecord) (Unsubscribe, error)
	// Append writes rec under a fresh identity and logical clock value and
	// returns the identity once the store acknowledged the write.
	Append(ctx context.Context, h *ChannelHandle, rec models.Record) (string, error)
	// Close releases the handle and stops its subscriptions.
	Close(h *ChannelHandle)
}

// ChannelHandle addresses one opened channel.
type ChannelHandle struct {
	Key string

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]Unsubscribe
}

func newChannelHandle(key string) *ChannelHandle {
	return &ChannelHandle{Key: key, subs: make(map[uint64]Unsubscribe)}
}

// Closed reports whether the handle was released.
func (h *ChannelHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// track attaches an unsubscribe func to the handle and returns one that also detaches it.
func (h *ChannelHandle) track(stop Unsubscribe) (Unsubscribe, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		stop()
		return nil, ErrChannelClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = stop
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			stop()
		})
	}, nil
}

// release marks the handle closed and returns the subscriptions left to stop.
func (h *ChannelHandle) release() []Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	stops := make([]Unsubscribe, 0, len(h.subs))
	for id, stop := range h.subs {
		stops = append(stops, stop)
		delete(h.subs, id)
	}
	return stops
}

// subscription serializes deliveries and guarantees none happen after stop.
type subscription struct {
	mu       sync.Mutex
	stopped  bool
	onRecord OnRecord
}

func newSubscription(onRecord OnRecord) *subscription {
	return &subscription{onRecord: onRecord}
}

func (s *subscription) send(rec models.Record, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.onRecord(rec, id)
}

// stop waits for an in-flight delivery to finish.
func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
