package views

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinic-console/internal/querycache"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateStore(client, ttl), mr
}

func TestRedisStateStore_RoundTrip(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	want := State{Filter: querycache.ByDateRange(from, from.Add(48*time.Hour)), Page: 3, PageSize: 25}

	require.NoError(t, store.Save(ctx, "s1", "appointments", want))
	assert.True(t, mr.Exists("views:state:s1:appointments"))
	assert.Equal(t, time.Hour, mr.TTL("views:state:s1:appointments"))

	got, err := store.Load(ctx, "s1", "appointments")
	require.NoError(t, err)
	assert.True(t, got.Filter.Equal(want.Filter))
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, 25, got.PageSize)
}

func TestRedisStateStore_Missing(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	_, err := store.Load(context.Background(), "nobody", "patients")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestRedisStateStore_Corrupt(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set("views:state:s1:patients", "{not json"))
	_, err := store.Load(context.Background(), "s1", "patients")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoState)
}

func TestRedisStateStore_Expires(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", "products", State{Filter: querycache.All(), Page: 1, PageSize: 10}))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "s1", "products")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestMemoryStateStore_ScopedBySessionAndEntity(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", "patients", State{Filter: querycache.All(), Page: 2, PageSize: 10}))

	got, err := store.Load(ctx, "s1", "patients")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Page)

	_, err = store.Load(ctx, "s2", "patients")
	assert.ErrorIs(t, err, ErrNoState)
	_, err = store.Load(ctx, "s1", "products")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestState_Validate(t *testing.T) {
	assert.NoError(t, State{Filter: querycache.All(), Page: 1, PageSize: 10}.Validate())
	assert.Error(t, State{Filter: querycache.All(), Page: 0, PageSize: 10}.Validate())
	assert.Error(t, State{Filter: querycache.Filter{Kind: querycache.FilterPatient}, Page: 1, PageSize: 10}.Validate())
}

func TestActivityFilter(t *testing.T) {
	assert.NoError(t, ActivityFilter(querycache.All()))
	assert.NoError(t, ActivityFilter(querycache.ByStatus("inactive").Normalize()))
	assert.ErrorIs(t, ActivityFilter(querycache.ByStatus("PENDING")), querycache.ErrInvalidFilter)
	assert.ErrorIs(t, ActivityFilter(querycache.ByPatient("p1")), querycache.ErrInvalidFilter)
}
