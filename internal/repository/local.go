package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/migrations"
	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Keys of the device-local state
const (
	keyPinHash      = "pinHash"
	keyLockoutUntil = "lockoutUntil"
	keyAppConfig    = "appConfig"
	keyAuthSession  = "authSession"
)

// LocalStore handles the device-local persisted state
type LocalStore struct {
	db *sql.DB
}

// OpenLocalStore opens (creating if needed) the SQLite database at path
// and applies the local schema migrations
func OpenLocalStore(ctx context.Context, path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	// a single connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if err := migrateLocal(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewLocalStore(db), nil
}

func migrateLocal(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.Local, "local")
	if err != nil {
		return fmt.Errorf("failed to open local migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate local database: %w", err)
	}
	return nil
}

// NewLocalStore creates a local store on an already migrated database
func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{db: db}
}

// Close closes the underlying database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Get returns the raw value for key, or nil if absent
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local state[%s]: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key
func (s *LocalStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set local state[%s]: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is not an error
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete local state[%s]: %w", key, err)
	}
	return nil
}

// PinRecord returns the persisted PIN record, or nil if no PIN is set up
func (s *LocalStore) PinRecord(ctx context.Context) (*models.PinRecord, error) {
	value, err := s.Get(ctx, keyPinHash)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	return &models.PinRecord{Hash: string(value)}, nil
}

// SavePinRecord persists the PIN record, replacing any previous one
func (s *LocalStore) SavePinRecord(ctx context.Context, rec models.PinRecord) error {
	return s.Set(ctx, keyPinHash, []byte(rec.Hash))
}

// DeletePinRecord removes the PIN record
func (s *LocalStore) DeletePinRecord(ctx context.Context) error {
	return s.Delete(ctx, keyPinHash)
}

// Lockout returns the persisted lockout, or nil if none is stored
func (s *LocalStore) Lockout(ctx context.Context) (*models.LockoutState, error) {
	value, err := s.Get(ctx, keyLockoutUntil)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	ms, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lockout timestamp: %w", err)
	}
	return &models.LockoutState{Until: time.UnixMilli(ms)}, nil
}

// SaveLockout persists the lockout expiry as integer milliseconds
func (s *LocalStore) SaveLockout(ctx context.Context, state models.LockoutState) error {
	return s.Set(ctx, keyLockoutUntil, []byte(strconv.FormatInt(state.Until.UnixMilli(), 10)))
}

// ClearLockout removes the lockout
func (s *LocalStore) ClearLockout(ctx context.Context) error {
	return s.Delete(ctx, keyLockoutUntil)
}

// AppSettings returns the saved application settings, or nil if none were saved
func (s *LocalStore) AppSettings(ctx context.Context) (*models.AppSettings, error) {
	value, err := s.Get(ctx, keyAppConfig)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, nil
	}
	var settings models.AppSettings
	if err := json.Unmarshal(value, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode app settings: %w", err)
	}
	return &settings, nil
}

// SaveAppSettings persists the application settings as JSON
func (s *LocalStore) SaveAppSettings(ctx context.Context, settings models.AppSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode app settings: %w", err)
	}
	return s.Set(ctx, keyAppConfig, data)
}

// AuthSession returns the persisted identity-provider session blob
func (s *LocalStore) AuthSession(ctx context.Context) ([]byte, error) {
	return s.Get(ctx, keyAuthSession)
}

// SaveAuthSession persists the identity-provider session blob
func (s *LocalStore) SaveAuthSession(ctx context.Context, data []byte) error {
	return s.Set(ctx, keyAuthSession, data)
}

// ClearAuthSession removes the identity-provider session blob
func (s *LocalStore) ClearAuthSession(ctx context.Context) error {
	return s.Delete(ctx, keyAuthSession)
}
