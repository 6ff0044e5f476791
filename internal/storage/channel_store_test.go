package storage_test

import (
	"context"
	"fundchat/backend/internal/models"
	"fundchat/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records deliveries from one subscription.
type collector struct {
	mu   sync.Mutex
	ids  []string
	recs []models.Record
}

func (c *collector) onRecord(rec models.Record, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	c.recs = append(c.recs, rec)
}

func (c *collector) snapshot() ([]string, []models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...), append([]models.Record(nil), c.recs...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func newRedisStore(t *testing.T) (*storage.RedisChannelStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return storage.NewRedisChannelStore(rdb, zerolog.Nop()), mr
}

// storeCases runs the shared contract against both implementations.
func storeCases(t *testing.T) map[string]storage.ChannelStore {
	redisStore, _ := newRedisStore(t)
	return map[string]storage.ChannelStore{
		"memory": storage.NewMemoryChannelStore(),
		"redis":  redisStore,
	}
}

func TestChannelStore_OpenEmptyKey(t *testing.T) {
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open("")
			assert.ErrorIs(t, err, storage.ErrEmptyChannelKey)
		})
	}
}

func TestChannelStore_ReplayThenLive(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			writer, err := store.Open(storage.ChannelPath("proj-1"))
			require.NoError(t, err)
			defer store.Close(writer)

			firstID, err := store.Append(ctx, writer, models.Record{Kind: models.KindMessage, Text: "A"})
			require.NoError(t, err)
			require.NotEmpty(t, firstID)

			reader, err := store.Open(storage.ChannelPath("proj-1"))
			require.NoError(t, err)
			defer store.Close(reader)

			c := &collector{}
			unsub, err := store.Subscribe(ctx, reader, c.onRecord)
			require.NoError(t, err)
			defer unsub()

			require.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)

			secondID, err := store.Append(ctx, writer, models.Record{Kind: models.KindMessage, Text: "B"})
			require.NoError(t, err)

			require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 10*time.Millisecond)
			ids, recs := c.snapshot()
			assert.Equal(t, []string{firstID, secondID}, ids)
			assert.Equal(t, "A", recs[0].Text)
			assert.Equal(t, "B", recs[1].Text)
			assert.Less(t, recs[0].CreatedAt, recs[1].CreatedAt)
		})
	}
}

func TestChannelStore_NoDeliveryAfterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			h, err := store.Open(storage.ChannelPath("proj-2"))
			require.NoError(t, err)
			defer store.Close(h)

			c := &collector{}
			unsub, err := store.Subscribe(ctx, h, c.onRecord)
			require.NoError(t, err)
			unsub()
			unsub()

			_, err = store.Append(ctx, h, models.Record{Text: "late"})
			require.NoError(t, err)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 0, c.count())
		})
	}
}

func TestChannelStore_ClosedHandle(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			h, err := store.Open(storage.ChannelPath("proj-3"))
			require.NoError(t, err)

			c := &collector{}
			unsub, err := store.Subscribe(ctx, h, c.onRecord)
			require.NoError(t, err)

			store.Close(h)
			store.Close(h)
			unsub()

			_, err = store.Append(ctx, h, models.Record{Text: "x"})
			assert.ErrorIs(t, err, storage.ErrChannelClosed)
			_, err = store.Subscribe(ctx, h, c.onRecord)
			assert.ErrorIs(t, err, storage.ErrChannelClosed)
		})
	}
}

func TestChannelStore_ChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, store := range storeCases(t) {
		t.Run(name, func(t *testing.T) {
			a, err := store.Open(storage.ChannelPath("proj-a"))
			require.NoError(t, err)
			defer store.Close(a)
			b, err := store.Open(storage.ChannelPath("proj-b"))
			require.NoError(t, err)
			defer store.Close(b)

			c := &collector{}
			unsub, err := store.Subscribe(ctx, b, c.onRecord)
			require.NoError(t, err)
			defer unsub()

			_, err = store.Append(ctx, a, models.Record{Text: "only in a"})
			require.NoError(t, err)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 0, c.count())
		})
	}
}

func TestMemoryChannelStore_Redelivery(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryChannelStore(storage.WithRedelivery())
	h, err := store.Open(storage.ChannelPath("proj-r"))
	require.NoError(t, err)
	defer store.Close(h)

	c := &collector{}
	unsub, err := store.Subscribe(ctx, h, c.onRecord)
	require.NoError(t, err)
	defer unsub()

	idA, err := store.Append(ctx, h, models.Record{Text: "A"})
	require.NoError(t, err)
	idB, err := store.Append(ctx, h, models.Record{Text: "B"})
	require.NoError(t, err)

	ids, _ := c.snapshot()
	assert.Equal(t, []string{idA, idA, idB}, ids)
}

func TestRedisChannelStore_Layout(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	h, err := store.Open(storage.ChannelPath("proj-42"))
	require.NoError(t, err)
	defer store.Close(h)

	id, err := store.Append(ctx, h, models.Record{Kind: models.KindVote, Voter: "pk-1"})
	require.NoError(t, err)

	raw := mr.HGet("chats/proj-42", id)
	assert.JSONEq(t, `{"kind":"vote","voter":"pk-1","createdAt":1}`, raw)

	clock, err := mr.Get("chats/proj-42:clock")
	require.NoError(t, err)
	assert.Equal(t, "1", clock)
}

func TestRedisChannelStore_AppendFailsWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	h, err := store.Open(storage.ChannelPath("proj-down"))
	require.NoError(t, err)
	defer store.Close(h)

	mr.Close()

	_, err = store.Append(ctx, h, models.Record{Text: "lost"})
	assert.Error(t, err)
}
