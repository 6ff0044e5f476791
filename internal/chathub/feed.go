package chathub

import "fundchat/backend/internal/models"

// FeedAggregator turns an at-least-once record stream into the visible,
// duplicate-free message list of one subscription.
//
// Entries keep arrival order. Replayed history arrives unordered, so the
// list is never re-sorted by CreatedAt. It is not safe for concurrent use.
type FeedAggregator struct {
	seen     map[string]struct{}
	messages []models.ChatMessage
}

func NewFeedAggregator() *FeedAggregator {
	return &FeedAggregator{seen: make(map[string]struct{})}
}

// Add appends the record unless its id was already seen. Records without
// text are kept verbatim.
func (f *FeedAggregator) Add(rec models.Record, id string) (models.ChatMessage, bool) {
	if _, ok := f.seen[id]; ok {
		return models.ChatMessage{}, false
	}
	f.seen[id] = struct{}{}

	msg := models.ChatMessage{
		ID:        id,
		Text:      rec.Text,
		Author:    rec.Author,
		CreatedAt: rec.CreatedAt,
	}
	f.messages = append(f.messages, msg)
	return msg, true
}

// Messages returns a copy of the visible sequence.
func (f *FeedAggregator) Messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *FeedAggregator) Len() int { return len(f.messages) }
