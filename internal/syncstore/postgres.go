package syncstore

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/migrations"
	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

const pgChannel = "sync_changes"

// PostgresStore keeps children in the sync_values table; a trigger announces
// every write with pg_notify and a dedicated LISTEN connection fans it out
type PostgresStore struct {
	pool *pgxpool.Pool
	conn *connectivity

	mu      sync.Mutex
	watches map[*pgWatch]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// pgWatch serializes the snapshot reads of one watch in a single goroutine.
// A kick that arrives during a read queues exactly one more, so the last
// read always starts after the last change notification.
type pgWatch struct {
	path string
	box  *mailbox[Snapshot]
	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func newPGWatch(path string, fn func(Snapshot)) *pgWatch {
	return &pgWatch{
		path: path,
		box:  newMailbox(fn),
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (w *pgWatch) trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *pgWatch) run(load func(ctx context.Context, path string) (Snapshot, error)) {
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		snap, err := load(ctx, w.path)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("path", w.path).Msg("Failed to read postgres snapshot")
			continue
		}

		select {
		case <-w.done:
			return
		default:
			w.box.offer(snap)
		}
	}
}

func (w *pgWatch) stop() {
	w.once.Do(func() {
		close(w.done)
		w.box.close()
	})
}

// NewPostgresStore connects, migrates the schema and starts listening
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		pool:    pool,
		conn:    newConnectivity(),
		watches: make(map[*pgWatch]struct{}),
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.listen(listenCtx)
	return s, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		return fmt.Errorf("failed to open postgres migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate sync store: %w", err)
	}
	return nil
}

// Set upserts the child row; the trigger notifies listeners
func (s *PostgresStore) Set(ctx context.Context, path string, value []byte) error {
	parent, key, err := SplitPath(path)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sync_values (parent, key, value, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (parent, key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, parent, key, string(value)); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Watch registers fn for path and delivers the current children
func (s *PostgresStore) Watch(path string, fn func(Snapshot)) (Subscription, error) {
	w := newPGWatch(path, fn)

	s.mu.Lock()
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(s.load)
	}()
	w.trigger()

	return subscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watches, w)
		s.mu.Unlock()
		w.stop()
	}), nil
}

func (s *PostgresStore) load(ctx context.Context, path string) (Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value::text FROM sync_values WHERE parent = $1`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", path, err)
		}
		snap[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return snap, nil
}

// reload schedules a re-read of every watch on parent, or of all watches
// when parent is empty
func (s *PostgresStore) reload(parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watches {
		if parent == "" || w.path == parent {
			w.trigger()
		}
	}
}

func (s *PostgresStore) listen(ctx context.Context) {
	defer s.wg.Done()
	backoff := time.Second

	for ctx.Err() == nil {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.conn.set(models.Disconnected) {
			log.Warn().Err(err).Msg("Postgres listener disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig.Copy())
	if err != nil {
		return fmt.Errorf("failed to open listener connection: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.conn.set(models.Connected) {
		log.Info().Msg("Postgres listener connected")
	}
	// catch up on writes made while the listener was down
	s.reload("")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.reload(n.Payload)
	}
}

// WatchConnectivity reports the state of the LISTEN connection
func (s *PostgresStore) WatchConnectivity(fn func(models.Connectivity)) Subscription {
	return s.conn.watch(fn)
}

// Close stops the listener and closes the pool
func (s *PostgresStore) Close() error {
	s.cancel()

	s.mu.Lock()
	for w := range s.watches {
		w.stop()
	}
	s.watches = make(map[*pgWatch]struct{})
	s.mu.Unlock()

	s.wg.Wait()
	s.conn.closeAll()
	s.pool.Close()
	return nil
}
