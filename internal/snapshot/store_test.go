package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/migrate"
	"github.com/angelmondragon/cartsync/pkg/redis"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(sessionID string) *cart.Snapshot {
	lines := []cart.Line{
		{ID: "10", ProductID: "1", Quantity: 2, UnitPrice: decimal.NewFromInt(500000)},
		{ID: "11", ProductID: "2", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")},
	}
	return &cart.Snapshot{
		SessionID: sessionID,
		Lines:     lines,
		Total:     cart.Total(lines),
		SavedAt:   time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store cart.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	missing, err := store.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	snap := sampleSnapshot("anon-1")
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "anon-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "anon-1", loaded.SessionID)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, cart.ID("10"), loaded.Lines[0].ID)
	assert.True(t, loaded.Total.Equal(decimal.RequireFromString("1000009.99")))
	assert.True(t, loaded.SavedAt.Equal(snap.SavedAt))

	snap.Lines = snap.Lines[:1]
	snap.Total = cart.Total(snap.Lines)
	require.NoError(t, store.Save(ctx, snap))
	loaded, err = store.Load(ctx, "anon-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Lines, 1)

	require.NoError(t, store.Delete(ctx, "anon-1"))
	require.NoError(t, store.Delete(ctx, "anon-1"))
	loaded, err = store.Load(ctx, "anon-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	_, err = store.Load(ctx, " ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.Is(store.Save(ctx, nil), pkgerrors.CodeValidation))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreDoesNotAlias(t *testing.T) {
	store := NewMemoryStore()
	snap := sampleSnapshot("s")
	require.NoError(t, store.Save(context.Background(), snap))
	snap.Lines[0].Quantity = 99

	loaded, err := store.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Lines[0].Quantity)
}

type fakeKV struct {
	mu    sync.Mutex
	items map[string]string
	ttls  map[string]time.Duration
	err   error
}

func newFakeKV() *fakeKV {
	return &fakeKV{items: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items[key] = fmt.Sprint(value)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.items[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.items, k)
	}
	return nil
}

func (f *fakeKV) CartSnapshotKey(sessionID string) string {
	return (&redis.Client{}).CartSnapshotKey(sessionID)
}

func TestRedisStore(t *testing.T) {
	kv := newFakeKV()
	store, err := NewRedisStore(kv, time.Hour)
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Save(context.Background(), sampleSnapshot("user:42")))
	assert.Contains(t, kv.items, "cs:cart:user:42")
	assert.Equal(t, time.Hour, kv.ttls["cs:cart:user:42"])
}

func TestRedisStoreErrors(t *testing.T) {
	kv := newFakeKV()
	store, err := NewRedisStore(kv, 0)
	require.NoError(t, err)

	kv.items["cs:cart:broken"] = "{not json"
	_, err = store.Load(context.Background(), "broken")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))

	kv.err = errors.New("connection refused")
	_, err = store.Load(context.Background(), "s")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.Is(store.Save(context.Background(), sampleSnapshot("s")), pkgerrors.CodeDependency))

	_, err = NewRedisStore(nil, 0)
	require.Error(t, err)
}

func TestLoadTreatsInvalidSnapshotAsCorrupt(t *testing.T) {
	cases := map[string]string{
		"zero quantity":   `{"session_id":"s","lines":[{"id":"10","productId":"1","quantity":0,"unitPrice":"1"}]}`,
		"negative":        `{"session_id":"s","lines":[{"id":"10","productId":"1","quantity":-2,"unitPrice":"1"}]}`,
		"missing line id": `{"session_id":"s","lines":[{"productId":"1","quantity":1,"unitPrice":"1"}]}`,
		"missing product": `{"session_id":"s","lines":[{"id":"10","quantity":1,"unitPrice":"1"}]}`,
		"no session":      `{"lines":[]}`,
		"other session":   `{"session_id":"someone-else","lines":[]}`,
		"empty object":    `{}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			mem := NewMemoryStore()
			mem.items["s"] = []byte(payload)
			_, err := mem.Load(context.Background(), "s")
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal), "memory: %v", err)

			kv := newFakeKV()
			kv.items["cs:cart:s"] = payload
			rs, err := NewRedisStore(kv, 0)
			require.NoError(t, err)
			_, err = rs.Load(context.Background(), "s")
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal), "redis: %v", err)
		})
	}

	mem := NewMemoryStore()
	mem.items["s"] = []byte(`{"session_id":"s","lines":null}`)
	snap, err := mem.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.NotNil(t, snap.Lines)
	assert.Empty(t, snap.Lines)
}

func newSQLStore(t *testing.T) (*SQLStore, *db.Client) {
	t.Helper()
	migrate.SetLogger(logger.Nop())
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:       config.DBDriverSQLite,
		DSN:          fmt.Sprintf("file:snap_%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, migrate.MaybeRun(context.Background(), config.DBConfig{AutoMigrate: true}, logger.Nop(), client))

	store, err := NewSQLStore(client, 24*time.Hour)
	require.NoError(t, err)
	return store, client
}

func TestSQLStore(t *testing.T) {
	store, _ := newSQLStore(t)
	exerciseStore(t, store)
}

func TestSQLStoreExpiry(t *testing.T) {
	store, _ := newSQLStore(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, sampleSnapshot("old")))
	require.NoError(t, store.Save(ctx, sampleSnapshot("other")))

	now = now.Add(25 * time.Hour)
	loaded, err := store.Load(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, loaded, "expired snapshot must read as absent")

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	require.NoError(t, store.Save(ctx, sampleSnapshot("fresh")))
	purged, err = store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, purged)
}
