package chathub

import (
	"context"
	"errors"
	"fmt"
	"fundchat/backend/internal/metrics"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrNotReady      = errors.New("project identifier not available")
	ErrEmptyMessage  = errors.New("empty message")
	ErrWriteFailed   = errors.New("store write failed")
	ErrAlreadyFrozen = errors.New("project already frozen")
	ErrDuplicateVote = errors.New("voter already voted")
	ErrProjectIssue  = errors.New("project issue")
)

// ControllerConfig wires a ChannelController to its collaborators.
type ControllerConfig struct {
	// Author stamps posted messages. It is the client's public key.
	Author    string
	Threshold int
	// Sink receives feed events. It runs on store delivery goroutines, at
	// times with the controller lock held, and must not block or call back
	// into the controller.
	Sink func(models.FeedEvent)
	// OnFrozen is called once per opened channel when the tally freezes.
	OnFrozen func(projectUID string)
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// ChannelController joins one client to one project channel at a time.
// It owns the channel handle, the subscription, the feed and the freeze
// tally, and holds the client's compose draft.
type ChannelController struct {
	store storage.ChannelStore
	cfg   ControllerConfig
	log   zerolog.Logger

	mu         sync.Mutex
	session    uint64
	projectUID string
	handle     *storage.ChannelHandle
	unsub      storage.Unsubscribe
	feed       *FeedAggregator
	tally      *FreezeTally
	draft      string
	// replaying is set while Subscribe delivers the known history. Those
	// records reach the sink as one snapshot event.
	replaying      bool
	frozenOnReplay bool
}

func NewChannelController(store storage.ChannelStore, cfg ControllerConfig) *ChannelController {
	if cfg.Sink == nil {
		cfg.Sink = func(models.FeedEvent) {}
	}
	return &ChannelController{
		store: store,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("author", cfg.Author).Logger(),
	}
}

// Open subscribes to the project's channel with an empty feed and tally.
// A channel opened before is closed first. ctx bounds the subscription.
func (c *ChannelController) Open(ctx context.Context, projectUID string) error {
	if projectUID == "" {
		return ErrNotReady
	}
	c.Close()

	h, err := c.store.Open(storage.ChannelPath(projectUID))
	if err != nil {
		return fmt.Errorf("open channel %s: %w", projectUID, err)
	}

	c.mu.Lock()
	c.session++
	session := c.session
	c.projectUID = projectUID
	c.handle = h
	c.feed = NewFeedAggregator()
	c.tally = NewFreezeTally(c.cfg.Threshold)
	c.replaying = true
	c.mu.Unlock()

	unsub, err := c.store.Subscribe(ctx, h, func(rec models.Record, id string) {
		c.onRecord(session, rec, id)
	})
	if err != nil {
		c.store.Close(h)
		c.mu.Lock()
		if c.session == session {
			c.reset()
		}
		c.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", projectUID, err)
	}

	c.mu.Lock()
	if c.session != session {
		// Closed while subscribing.
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.replaying = false
	frozen := c.frozenOnReplay
	c.frozenOnReplay = false
	status := c.tally.Status()
	history := c.feed.Messages()
	// Sent under the lock so live events queued behind it arrive after the snapshot.
	c.cfg.Sink(models.FeedEvent{
		Type:       models.EventSnapshot,
		ProjectUID: projectUID,
		Messages:   history,
		Freeze:     lo.ToPtr(status),
	})
	if frozen {
		c.cfg.Sink(models.FeedEvent{Type: models.EventFrozen, ProjectUID: projectUID, Freeze: lo.ToPtr(status)})
	}
	c.mu.Unlock()

	c.cfg.Metrics.ChannelOpened()
	c.log.Debug().Str("project", projectUID).Int("history", len(history)).Msg("channel opened")
	if frozen {
		c.quorumReached(projectUID)
	}
	return nil
}

func (c *ChannelController) onRecord(session uint64, rec models.Record, id string) {
	c.mu.Lock()
	if c.session != session || c.feed == nil {
		c.mu.Unlock()
		return
	}
	projectUID := c.projectUID

	var events []models.FeedEvent
	transitioned := false

	if rec.IsVote() {
		var counted bool
		counted, transitioned = c.tally.Observe(rec.Voter)
		if counted {
			events = append(events, models.FeedEvent{Type: models.EventVote, ProjectUID: projectUID, Freeze: lo.ToPtr(c.tally.Status())})
			c.cfg.Metrics.RecordRecord(models.KindVote, "accepted")
		} else {
			c.cfg.Metrics.RecordRecord(models.KindVote, "ignored")
		}
		if transitioned {
			events = append(events, models.FeedEvent{Type: models.EventFrozen, ProjectUID: projectUID, Freeze: lo.ToPtr(c.tally.Status())})
		}
	} else if msg, ok := c.feed.Add(rec, id); ok {
		events = append(events, models.FeedEvent{Type: models.EventMessage, ProjectUID: projectUID, Message: lo.ToPtr(msg)})
		c.cfg.Metrics.RecordRecord(models.KindMessage, "accepted")
	} else {
		c.cfg.Metrics.RecordRecord(models.KindMessage, "duplicate")
	}
	if c.replaying {
		c.frozenOnReplay = c.frozenOnReplay || transitioned
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, ev := range events {
		c.cfg.Sink(ev)
	}
	if transitioned {
		c.quorumReached(projectUID)
	}
}

func (c *ChannelController) quorumReached(projectUID string) {
	c.cfg.Metrics.RecordFrozen()
	c.log.Info().Str("project", projectUID).Msg("freeze quorum reached")
	if c.cfg.OnFrozen != nil {
		c.cfg.OnFrozen(projectUID)
	}
}

// Post trims text and appends it to the open channel. Nothing is written
// for blank text or when no channel is open.
func (c *ChannelController) Post(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	h := c.handle
	frozen := c.tally != nil && c.tally.Frozen()
	c.mu.Unlock()

	if text == "" || h == nil {
		c.cfg.Metrics.RecordPost("empty")
		return ErrEmptyMessage
	}
	if frozen {
		c.cfg.Metrics.RecordPost("frozen")
		return ErrAlreadyFrozen
	}

	rec := models.Record{Kind: models.KindMessage, Text: text, Author: c.cfg.Author}
	if _, err := c.store.Append(ctx, h, rec); err != nil {
		c.cfg.Metrics.RecordPost("failed")
		c.log.Warn().Err(err).Str("channel", h.Key).Msg("post not written")
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	c.cfg.Metrics.RecordPost("ok")
	return nil
}

func (c *ChannelController) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *ChannelController) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit posts the draft. The draft is cleared once the store acknowledged
// the write and kept on any error so the user can retry.
func (c *ChannelController) Submit(ctx context.Context) error {
	draft := c.Draft()
	if err := c.Post(ctx, draft); err != nil {
		return err
	}

	c.mu.Lock()
	if c.draft == draft {
		c.draft = ""
	}
	c.mu.Unlock()
	return nil
}

// Vote casts voter's freeze vote. The tally only changes when the vote is
// delivered back through the subscription.
func (c *ChannelController) Vote(ctx context.Context, voter string) error {
	c.mu.Lock()
	h := c.handle
	var err error
	switch {
	case h == nil || voter == "":
		err = ErrNotReady
	default:
		err = c.tally.CheckCast(voter)
	}
	c.mu.Unlock()

	switch {
	case errors.Is(err, ErrAlreadyFrozen):
		c.cfg.Metrics.RecordVote("frozen")
		return err
	case errors.Is(err, ErrDuplicateVote):
		c.cfg.Metrics.RecordVote("duplicate")
		return err
	case err != nil:
		return err
	}

	if _, err := c.store.Append(ctx, h, models.Record{Kind: models.KindVote, Voter: voter}); err != nil {
		c.cfg.Metrics.RecordVote("failed")
		c.log.Warn().Err(err).Str("channel", h.Key).Msg("vote not written")
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	c.cfg.Metrics.RecordVote("cast")
	return nil
}

// Close unsubscribes and drops the feed, the tally and the draft. It must
// not be called from the Sink.
func (c *ChannelController) Close() {
	c.mu.Lock()
	h, unsub := c.handle, c.unsub
	c.session++
	c.reset()
	c.mu.Unlock()

	if unsub != nil {
		unsub()
		c.cfg.Metrics.ChannelClosed()
	}
	if h != nil {
		c.store.Close(h)
	}
}

func (c *ChannelController) reset() {
	c.projectUID = ""
	c.handle = nil
	c.unsub = nil
	c.feed = nil
	c.tally = nil
	c.draft = ""
	c.replaying = false
	c.frozenOnReplay = false
}

func (c *ChannelController) ProjectUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectUID
}

func (c *ChannelController) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Messages returns the visible feed, or nil when no channel is open.
func (c *ChannelController) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed == nil {
		return nil
	}
	return c.feed.Messages()
}

func (c *ChannelController) FreezeStatus() models.FreezeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tally == nil {
		return models.FreezeStatus{}
	}
	return c.tally.Status()
}
