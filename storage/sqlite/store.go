// Package sqlite provides durable on-device persistence for the caresync
// offline queue and key-value bookkeeping, backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/telecare/caresync"
	syncErrors "github.com/telecare/caresync/errors"
	"github.com/telecare/caresync/logging"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opSaveAction   = "sqlite.SaveAction"
	opDeleteAction = "sqlite.DeleteAction"
	opLoadActions  = "sqlite.LoadActions"
	opClear        = "sqlite.Clear"
	opGet          = "sqlite.Get"
	opSet          = "sqlite.Set"
	opRemove       = "sqlite.Remove"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrKeyNotFound = errors.New("key not found")
)

// Config holds configuration options for the local store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:caresync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings. The store is device-local, so the defaults
	// stay small: MaxOpen=5, MaxIdle=2, Lifetime=1h, IdleTime=5m.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 5
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with WAL mode enabled.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// LocalStore persists offline actions and key-value state in one SQLite
// file. It implements both caresync.ActionStore and caresync.KeyValueStore.
type LocalStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

var (
	_ caresync.ActionStore   = (*LocalStore)(nil)
	_ caresync.KeyValueStore = (*LocalStore)(nil)
)

// New opens (or creates) the store at the configured data source.
func New(config *Config) (*LocalStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.Default().WithComponent(logging.Component("sqlite-store"))
	logger.Info("opening local database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &LocalStore{
		db:     db,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*LocalStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// setupSchema creates the tables if they don't exist. The seq column keeps
// load order FIFO across restarts.
func (s *LocalStore) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS offline_actions (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        id          TEXT NOT NULL UNIQUE,
        body        TEXT NOT NULL,
        created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_offline_actions_id ON offline_actions (id);

    CREATE TABLE IF NOT EXISTS kv (
        key         TEXT PRIMARY KEY,
        value       BLOB NOT NULL,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *LocalStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// SaveAction inserts or updates one queued action. The action body is stored
// as JSON; an existing row keeps its queue position so retry-count bumps do
// not reorder the FIFO.
func (s *LocalStore) SaveAction(ctx context.Context, action caresync.Action) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	body, err := json.Marshal(action)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opSaveAction, "storage/sqlite")
	}

	query := `INSERT INTO offline_actions (id, body) VALUES (?, ?)
	          ON CONFLICT(id) DO UPDATE SET body = excluded.body`
	if _, err := s.db.ExecContext(ctx, query, action.ID, string(body)); err != nil {
		return syncErrors.WrapOpComponent(err, opSaveAction, "storage/sqlite")
	}
	return nil
}

// DeleteAction removes one action by id. Deleting an absent id is a no-op.
func (s *LocalStore) DeleteAction(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id); err != nil {
		return syncErrors.WrapOpComponent(err, opDeleteAction, "storage/sqlite")
	}
	return nil
}

// LoadActions returns every persisted action in enqueue order.
func (s *LocalStore) LoadActions(ctx context.Context) ([]caresync.Action, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM offline_actions ORDER BY seq ASC`)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoadActions, "storage/sqlite")
	}
	defer rows.Close()

	var actions []caresync.Action
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opLoadActions, "storage/sqlite")
		}
		var action caresync.Action
		if err := json.Unmarshal([]byte(body), &action); err != nil {
			// A corrupt row is skipped, not fatal: losing one action beats
			// refusing to start the queue.
			s.logger.Warn("skipping corrupt persisted action", slog.String("error", err.Error()))
			continue
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opLoadActions, "storage/sqlite")
	}
	return actions, nil
}

// Clear removes every persisted action.
func (s *LocalStore) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_actions`); err != nil {
		return syncErrors.WrapOpComponent(err, opClear, "storage/sqlite")
	}
	return nil
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.Op(opGet), syncErrors.Component("storage/sqlite"),
			syncErrors.KindNotFound, ErrKeyNotFound)
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, "storage/sqlite")
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *LocalStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	          ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return syncErrors.WrapOpComponent(err, opSet, "storage/sqlite")
	}
	return nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *LocalStore) Remove(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return syncErrors.WrapOpComponent(err, opRemove, "storage/sqlite")
	}
	return nil
}

// Close closes the underlying database. Idempotent.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
