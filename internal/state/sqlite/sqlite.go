// Package sqlite implements the state Repository using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite
// GORM driver. JSON columns are stored as TEXT.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/themislabs/themis/internal/state"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// stateDocument is the singleton row holding the whole state snapshot.
type stateDocument struct {
	Key        string    `gorm:"primaryKey;column:key"`
	Memory     string    `gorm:"column:memory;type:text"`
	Plans      string    `gorm:"column:plans;type:text"`
	Executions string    `gorm:"column:executions;type:text"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (stateDocument) TableName() string { return "themis_state" }

// Repository implements state.Repository backed by SQLite.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates a new SQLite-backed Repository.
func Open(cfg Config, slogger *slog.Logger) (*Repository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&stateDocument{}); err != nil {
		return nil, fmt.Errorf("migrating state schema: %w", err)
	}

	return &Repository{db: db, logger: slogger, path: cfg.Path}, nil
}

// Load reads the singleton state document. An empty database returns a
// fresh snapshot.
func (r *Repository) Load(ctx context.Context) (*state.Snapshot, error) {
	var doc stateDocument
	err := r.db.WithContext(ctx).First(&doc, "key = ?", state.SingletonKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state document: %w", err)
	}
	return decodeSnapshot(doc)
}

// Save upserts the singleton state document.
func (r *Repository) Save(ctx context.Context, snap *state.Snapshot) error {
	doc, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(doc).Error
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeSnapshot(snap *state.Snapshot) (*stateDocument, error) {
	memory, err := json.Marshal(snap.Memory)
	if err != nil {
		return nil, fmt.Errorf("encoding memory: %w", err)
	}
	plans, err := json.Marshal(snap.Plans)
	if err != nil {
		return nil, fmt.Errorf("encoding plans: %w", err)
	}
	executions, err := json.Marshal(snap.Executions)
	if err != nil {
		return nil, fmt.Errorf("encoding executions: %w", err)
	}
	return &stateDocument{
		Key:        state.SingletonKey,
		Memory:     string(memory),
		Plans:      string(plans),
		Executions: string(executions),
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func decodeSnapshot(doc stateDocument) (*state.Snapshot, error) {
	snap := state.NewSnapshot()
	if doc.Memory != "" {
		if err := json.Unmarshal([]byte(doc.Memory), &snap.Memory); err != nil {
			return nil, fmt.Errorf("decoding memory: %w", err)
		}
	}
	if doc.Plans != "" {
		if err := json.Unmarshal([]byte(doc.Plans), &snap.Plans); err != nil {
			return nil, fmt.Errorf("decoding plans: %w", err)
		}
	}
	if doc.Executions != "" {
		if err := json.Unmarshal([]byte(doc.Executions), &snap.Executions); err != nil {
			return nil, fmt.Errorf("decoding executions: %w", err)
		}
	}
	return snap, nil
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ state.Repository = (*Repository)(nil)
