package chathub_test

import (
	"context"
	"errors"
	"fundchat/backend/internal/directory"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockDirectory is a testify mock of directory.Service.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetProject(ctx context.Context, projectUID string) (*models.Project, error) {
	args := m.Called(projectUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockDirectory) UpdateProjectFund(ctx context.Context, update directory.FundUpdate) error {
	return m.Called(update).Error(0)
}

func (m *MockDirectory) MarkFrozen(ctx context.Context, projectUID string) error {
	return m.Called(projectUID).Error(0)
}

// countingStore wraps a ChannelStore and counts appends. failAppends makes
// every Append fail without writing.
type countingStore struct {
	storage.ChannelStore

	mu          sync.Mutex
	appends     int
	failAppends bool
}

var errStoreDown = errors.New("store down")

func newCountingStore(inner storage.ChannelStore) *countingStore {
	return &countingStore{ChannelStore: inner}
}

func (s *countingStore) Append(ctx context.Context, h *storage.ChannelHandle, rec models.Record) (string, error) {
	s.mu.Lock()
	s.appends++
	fail := s.failAppends
	s.mu.Unlock()
	if fail {
		return "", errStoreDown
	}
	return s.ChannelStore.Append(ctx, h, rec)
}

func (s *countingStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

func (s *countingStore) SetFailing(fail bool) {
	s.mu.Lock()
	s.failAppends = fail
	s.mu.Unlock()
}

// eventLog is a controller Sink that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []models.FeedEvent
}

func (l *eventLog) sink(ev models.FeedEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(eventType string) []models.FeedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.FeedEvent
	for _, ev := range l.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// scriptedStore lets a test play the store's deliveries by hand. Open,
// Append and Close come from the embedded memory store.
type scriptedStore struct {
	*storage.MemoryChannelStore

	mu       sync.Mutex
	onRecord storage.OnRecord
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{MemoryChannelStore: storage.NewMemoryChannelStore()}
}

func (s *scriptedStore) Subscribe(ctx context.Context, h *storage.ChannelHandle, onRecord storage.OnRecord) (storage.Unsubscribe, error) {
	s.mu.Lock()
	s.onRecord = onRecord
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.onRecord = nil
		s.mu.Unlock()
	}, nil
}

func (s *scriptedStore) deliver(rec models.Record, id string) {
	s.mu.Lock()
	onRecord := s.onRecord
	s.mu.Unlock()
	if onRecord != nil {
		onRecord(rec, id)
	}
}
