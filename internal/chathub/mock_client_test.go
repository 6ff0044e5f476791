package chathub_test

import (
	"fundchat/backend/internal/chathub"
	"fundchat/backend/internal/models"
	"sync"
	"testing"
	"time"
)

type MockClient struct {
	userID      string
	mu          sync.Mutex
	projectUID  string
	closed      bool
	RecvChannel chan models.FeedEvent
}

func newMockClient(userID string) *MockClient {
	return &MockClient{
		userID:      userID,
		RecvChannel: make(chan models.FeedEvent, chathub.SendBufferSize),
	}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetProjectUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectUID
}

func (c *MockClient) SetProjectUID(projectUID string) {
	c.mu.Lock()
	c.projectUID = projectUID
	c.mu.Unlock()
}

func (c *MockClient) GetSendChannel() chan<- models.FeedEvent {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next waits for the next event of the given type, skipping others.
func (c *MockClient) next(t *testing.T, eventType string) models.FeedEvent {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-c.RecvChannel:
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("client %s: no %q event", c.userID, eventType)
			return models.FeedEvent{}
		}
	}
}

// drain returns everything currently buffered.
func (c *MockClient) drain() []models.FeedEvent {
	var events []models.FeedEvent
	for {
		select {
		case ev := <-c.RecvChannel:
			events = append(events, ev)
		default:
			return events
		}
	}
}
