package storage

import (
	"context"
	"fundchat/backend/internal/models"
	"sync"

	"github.com/google/uuid"
)

type memoryEntry struct {
	id  string
	rec models.Record
}

type memoryChannel struct {
	clock   int64
	history []memoryEntry
	subs    map[uint64]*subscription
}

// MemoryChannelStore is an in-process ChannelStore for single node setups
// and tests. Deliveries run on the appending goroutine.
type MemoryChannelStore struct {
	mu        sync.Mutex
	channels  map[string]*memoryChannel
	nextSub   uint64
	redeliver bool
}

type MemoryOption func(*MemoryChannelStore)

// WithRedelivery makes every Append replay the whole history to the live
// subscribers before the new record, the way a lagging replica would.
func WithRedelivery() MemoryOption {
	return func(s *MemoryChannelStore) { s.redeliver = true }
}

func NewMemoryChannelStore(opts ...MemoryOption) *MemoryChannelStore {
	s := &MemoryChannelStore{channels: make(map[string]*memoryChannel)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryChannelStore) channel(key string) *memoryChannel {
	ch, ok := s.channels[key]
	if !ok {
		ch = &memoryChannel{subs: make(map[uint64]*subscription)}
		s.channels[key] = ch
	}
	return ch
}

func (s *MemoryChannelStore) Open(key string) (*ChannelHandle, error) {
	if key == "" {
		return nil, ErrEmptyChannelKey
	}
	return newChannelHandle(key), nil
}

func (s *MemoryChannelStore) Subscribe(ctx context.Context, h *ChannelHandle, onRecord OnRecord) (Unsubscribe, error) {
	if h.Closed() {
		return nil, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(onRecord)

	s.mu.Lock()
	ch := s.channel(h.Key)
	s.nextSub++
	subID := s.nextSub
	ch.subs[subID] = sub
	history := append([]memoryEntry(nil), ch.history...)
	s.mu.Unlock()

	for _, e := range history {
		sub.send(e.rec, e.id)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.channel(h.Key).subs, subID)
			s.mu.Unlock()
			sub.stop()
		})
	}
	return h.track(stop)
}

func (s *MemoryChannelStore) Append(ctx context.Context, h *ChannelHandle, rec models.Record) (string, error) {
	if h.Closed() {
		return "", ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	ch := s.channel(h.Key)
	ch.clock++
	rec.CreatedAt = ch.clock
	entry := memoryEntry{id: uuid.NewString(), rec: rec}

	var replay []memoryEntry
	if s.redeliver {
		replay = append(replay, ch.history...)
	}
	ch.history = append(ch.history, entry)

	subs := make([]*subscription, 0, len(ch.subs))
	for _, sub := range ch.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		for _, e := range replay {
			sub.send(e.rec, e.id)
		}
		sub.send(entry.rec, entry.id)
	}
	return entry.id, nil
}

func (s *MemoryChannelStore) Close(h *ChannelHandle) {
	for _, stop := range h.release() {
		stop()
	}
}
