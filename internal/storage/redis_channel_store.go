package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"fundchat/backend/internal/models"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisChannelStore keeps each channel in three Redis keys:
//
//	<path>        hash of record id -> record JSON (full history)
//	<path>:clock  INCR counter used as the logical clock
//	<path>        pub/sub channel broadcasting {id, record} envelopes
//
// Any number of processes may write the same channel.
type RedisChannelStore struct {
	Redis *redis.Client
	log   zerolog.Logger
}

// NewRedisChannelStore wraps a shared Redis client. The client's lifecycle
// belongs to the caller.
func NewRedisChannelStore(rdb *redis.Client, log zerolog.Logger) *RedisChannelStore {
	return &RedisChannelStore{Redis: rdb, log: log.With().Str("component", "redis_channel_store").Logger()}
}

type envelope struct {
	ID     string        `json:"id"`
	Record models.Record `json:"record"`
}

func clockKey(path string) string { return path + ":clock" }

func (s *RedisChannelStore) Open(key string) (*ChannelHandle, error) {
	if key == "" {
		return nil, ErrEmptyChannelKey
	}
	return newChannelHandle(key), nil
}

// Append stamps the record with the channel clock, stores it and publishes it.
func (s *RedisChannelStore) Append(ctx context.Context, h *ChannelHandle, rec models.Record) (string, error) {
	if h.Closed() {
		return "", ErrChannelClosed
	}

	clock, err := s.Redis.Incr(ctx, clockKey(h.Key)).Result()
	if err != nil {
		return "", fmt.Errorf("advance clock for %s: %w", h.Key, err)
	}
	rec.CreatedAt = clock

	id := uuid.NewString()
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	envelopeJSON, err := json.Marshal(envelope{ID: id, Record: rec})
	if err != nil {
		return "", err
	}

	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, h.Key, id, recordJSON)
		pipe.Publish(ctx, h.Key, envelopeJSON)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", h.Key, err)
	}
	return id, nil
}

// Subscribe listens on the pub/sub channel before replaying the hash, so a
// record written during the replay is delivered twice rather than lost.
// The live stream stops when ctx is cancelled or the subscription is stopped.
func (s *RedisChannelStore) Subscribe(ctx context.Context, h *ChannelHandle, onRecord OnRecord) (Unsubscribe, error) {
	if h.Closed() {
		return nil, ErrChannelClosed
	}

	pubsub := s.Redis.Subscribe(ctx, h.Key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", h.Key, err)
	}

	sub := newSubscription(onRecord)

	history, err := s.Redis.HGetAll(ctx, h.Key).Result()
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("load history of %s: %w", h.Key, err)
	}
	for id, raw := range history {
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn().Err(err).Str("channel", h.Key).Str("id", id).Msg("skipping undecodable record")
			continue
		}
		sub.send(rec, id)
	}

	liveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ch := pubsub.Channel()

	go func() {
		defer close(done)
		for {
			select {
			case <-liveCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					s.log.Warn().Err(err).Str("channel", h.Key).Msg("skipping undecodable envelope")
					continue
				}
				sub.send(env.Record, env.ID)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sub.stop()
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}
	return h.track(stop)
}

// Close releases the handle and stops every subscription made through it.
func (s *RedisChannelStore) Close(h *ChannelHandle) {
	for _, stop := range h.release() {
		stop()
	}
}
