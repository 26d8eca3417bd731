package syncstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisPrefix = "sync:"

// RedisStore keeps each parent path in a hash (one field per child) and
// announces every write on a per-parent channel
type RedisStore struct {
	client *redis.Client
	conn   *connectivity

	mu      sync.Mutex
	watches map[*redisWatch]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type redisWatch struct {
	path string
	box  *mailbox[Snapshot]
	kick chan struct{}
}

// NewRedisStore creates a store on client and starts its connectivity probe
func NewRedisStore(client *redis.Client, pingInterval time.Duration) *RedisStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		client:  client,
		conn:    newConnectivity(),
		watches: make(map[*redisWatch]struct{}),
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.probe(ctx, pingInterval)
	return s
}

func hashKey(parent string) string {
	return redisPrefix + parent
}

func channelName(parent string) string {
	return redisPrefix + "changes:" + parent
}

// Set writes value under the child key and publishes the change atomically
func (s *RedisStore) Set(ctx context.Context, path string, value []byte) error {
	parent, key, err := SplitPath(path)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, hashKey(parent), key, value)
	pipe.Publish(ctx, channelName(parent), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Watch subscribes to change notifications for path and re-reads the hash on each
func (s *RedisStore) Watch(path string, fn func(Snapshot)) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, channelName(path))

	w := &redisWatch{
		path: path,
		box:  newMailbox(fn),
		kick: make(chan struct{}, 1),
	}

	s.mu.Lock()
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.listen(ctx, pubsub, w)
	}()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watches, w)
			s.mu.Unlock()

			cancel()
			if err := pubsub.Close(); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("Failed to close redis subscription")
			}
			<-done
			w.box.close()
		})
	}), nil
}

func (s *RedisStore) listen(ctx context.Context, pubsub *redis.PubSub, w *redisWatch) {
	// wait for the subscription to be confirmed so no write between the
	// initial read and the subscription is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("path", w.path).Msg("Redis subscription not confirmed")
	}
	s.load(ctx, w)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.load(ctx, w)
		case <-w.kick:
			s.load(ctx, w)
		}
	}
}

func (s *RedisStore) load(ctx context.Context, w *redisWatch) {
	values, err := s.client.HGetAll(ctx, hashKey(w.path)).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("path", w.path).Msg("Failed to read redis snapshot")
		}
		return
	}

	snap := make(Snapshot, len(values))
	for k, v := range values {
		snap[k] = []byte(v)
	}
	w.box.offer(snap)
}

// WatchConnectivity reports the result of the periodic PING probe
func (s *RedisStore) WatchConnectivity(fn func(models.Connectivity)) Subscription {
	return s.conn.watch(fn)
}

func (s *RedisStore) probe(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := s.client.Ping(pingCtx).Err()
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if s.conn.set(models.Disconnected) {
				log.Warn().Err(err).Msg("Redis connection lost")
			}
		} else if s.conn.set(models.Connected) {
			log.Info().Msg("Redis connection established")
			s.resync()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resync re-reads every watched path; notifications published while the
// connection was down are not replayed by redis
func (s *RedisStore) resync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watches {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Close stops the probe, ends all watches and closes the client
func (s *RedisStore) Close() error {
	s.cancel()
	s.wg.Wait()
	s.conn.closeAll()
	return s.client.Close()
}
