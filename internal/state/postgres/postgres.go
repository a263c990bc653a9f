// Package postgres implements the state Repository on PostgreSQL using
// GORM. The snapshot is stored as jsonb columns on a singleton row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/themislabs/themis/internal/state"
)

// Config configures the PostgreSQL connection and pool.
type Config struct {
	DSN             string
	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 30m
	ConnMaxIdleTime time.Duration // Default: 10m
}

func (c Config) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c Config) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c Config) maxLifetime() time.Duration {
	if c.ConnMaxLifetime > 0 {
		return c.ConnMaxLifetime
	}
	return 30 * time.Minute
}

func (c Config) maxIdleTime() time.Duration {
	if c.ConnMaxIdleTime > 0 {
		return c.ConnMaxIdleTime
	}
	return 10 * time.Minute
}

type stateDocument struct {
	Key        string    `gorm:"primaryKey;column:key"`
	Memory     string    `gorm:"column:memory;type:jsonb"`
	Plans      string    `gorm:"column:plans;type:jsonb"`
	Executions string    `gorm:"column:executions;type:jsonb"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (stateDocument) TableName() string { return "themis_state" }

// Repository implements state.Repository backed by PostgreSQL.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL, configures the pool, and migrates the
// state schema.
func Open(cfg Config, slogger *slog.Logger) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())
	sqlDB.SetConnMaxIdleTime(cfg.maxIdleTime())

	if err := db.AutoMigrate(&stateDocument{}); err != nil {
		return nil, fmt.Errorf("migrating state schema: %w", err)
	}

	return &Repository{db: db, logger: slogger}, nil
}

func (r *Repository) Load(ctx context.Context) (*state.Snapshot, error) {
	var doc stateDocument
	err := r.db.WithContext(ctx).First(&doc, "key = ?", state.SingletonKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state document: %w", err)
	}

	snap := state.NewSnapshot()
	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"memory", doc.Memory, &snap.Memory},
		{"plans", doc.Plans, &snap.Plans},
		{"executions", doc.Executions, &snap.Executions},
	} {
		if col.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", col.name, err)
		}
	}
	return snap, nil
}

func (r *Repository) Save(ctx context.Context, snap *state.Snapshot) error {
	memory, err := json.Marshal(snap.Memory)
	if err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}
	plans, err := json.Marshal(snap.Plans)
	if err != nil {
		return fmt.Errorf("encoding plans: %w", err)
	}
	executions, err := json.Marshal(snap.Executions)
	if err != nil {
		return fmt.Errorf("encoding executions: %w", err)
	}

	doc := &stateDocument{
		Key:        state.SingletonKey,
		Memory:     string(memory),
		Plans:      string(plans),
		Executions: string(executions),
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(doc).Error
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

var _ state.Repository = (*Repository)(nil)
