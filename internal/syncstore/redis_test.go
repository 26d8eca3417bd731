package syncstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, 20*time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

type snapshotRecorder struct {
	mu   sync.Mutex
	last Snapshot
	n    int
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
	r.n++
}

func (r *snapshotRecorder) get() (Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.n
}

func TestRedisStore_SetWritesHashField(t *testing.T) {
	mr, store := setupTestRedis(t)

	err := store.Set(context.Background(), "couples/c1/locations/person1", []byte(`{"lat":1}`))
	require.NoError(t, err)

	assert.Equal(t, `{"lat":1}`, mr.HGet("sync:couples/c1/locations", "person1"))
}

func TestRedisStore_SetRejectsBadPath(t *testing.T) {
	_, store := setupTestRedis(t)
	assert.Error(t, store.Set(context.Background(), "flat", []byte(`1`)))
}

func TestRedisStore_WatchDeliversInitialAndLatest(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "couples/c1/locations/person1", []byte(`{"lat":10}`)))

	rec := &snapshotRecorder{}
	sub, err := store.Watch("couples/c1/locations", rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		s, _ := rec.get()
		return string(s["person1"]) == `{"lat":10}`
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Set(ctx, "couples/c1/locations/person1", []byte(`{"lat":11}`)))
	require.NoError(t, store.Set(ctx, "couples/c1/locations/person2", []byte(`{"lat":30}`)))

	require.Eventually(t, func() bool {
		s, _ := rec.get()
		return string(s["person1"]) == `{"lat":11}` && string(s["person2"]) == `{"lat":30}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisStore_WatchIgnoresOtherParents(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	rec := &snapshotRecorder{}
	sub, err := store.Watch("couples/c1/locations", rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, store.Set(ctx, "couples/other/locations/person1", []byte(`{"lat":1}`)))
	require.NoError(t, store.Set(ctx, "couples/c1/locations/person2", []byte(`{"lat":2}`)))

	require.Eventually(t, func() bool {
		s, _ := rec.get()
		return string(s["person2"]) == `{"lat":2}`
	}, 2*time.Second, 10*time.Millisecond)

	s, _ := rec.get()
	assert.NotContains(t, s, "person1")
}

func TestRedisStore_UnsubscribeStopsDelivery(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	rec := &snapshotRecorder{}
	sub, err := store.Watch("couples/c1/locations", rec.record)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, n := rec.get()
		return n >= 1
	}, 2*time.Second, 10*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, before := rec.get()

	require.NoError(t, store.Set(ctx, "couples/c1/locations/person1", []byte(`{"lat":5}`)))
	time.Sleep(100 * time.Millisecond)
	_, after := rec.get()
	assert.Equal(t, before, after)
}

func TestRedisStore_Connectivity(t *testing.T) {
	mr, store := setupTestRedis(t)

	var mu sync.Mutex
	var states []models.Connectivity
	sub := store.WatchConnectivity(func(c models.Connectivity) {
		mu.Lock()
		states = append(states, c)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	last := func() models.Connectivity {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return ""
		}
		return states[len(states)-1]
	}

	require.Eventually(t, func() bool { return last() == models.Connected }, 2*time.Second, 10*time.Millisecond)

	mr.SetError("server down")
	require.Eventually(t, func() bool { return last() == models.Disconnected }, 2*time.Second, 10*time.Millisecond)

	mr.SetError("")
	require.Eventually(t, func() bool { return last() == models.Connected }, 2*time.Second, 10*time.Millisecond)
}
