// Package store is the Postgres-backed persistence layer for everything the
// pipeline produces: patterns, per-day aggregates, device capabilities,
// synergy opportunities, suggestions, and user feedback (§6 persisted-state
// shape). It is grounded on the teacher's pkg/datastorage/repository tests
// (sqlmock expectations, pgconn error codes, zap logging) even though the
// teacher carries no corresponding non-test implementation: one repository
// struct per table, database/sql queries built on top of pgx's stdlib
// driver so sqlx's struct scanning and goose's migration runner both work
// against the same *sql.DB.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store bundles every table's repository behind the connection pool shared
// postgres keeps. Built once at startup by cmd/smarthome-analyzer.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger

	Patterns    *PatternRepository
	Suggestions *SuggestionRepository
	Synergies   *SynergyRepository
	Feedback    *FeedbackRepository
}

// Open connects to dsn (the DATABASE_URL config value) via pgx's stdlib
// driver, runs pending goose migrations, and wires every repository.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	db := sqlx.NewDb(sqlDB, "pgx")
	return &Store{
		db:          db,
		log:         log,
		Patterns:    &PatternRepository{db: db, log: log.Named("patterns")},
		Suggestions: &SuggestionRepository{db: db, log: log.Named("suggestions")},
		Synergies:   &SynergyRepository{db: db, log: log.Named("synergies")},
		Feedback:    &FeedbackRepository{db: db, log: log.Named("feedback")},
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the shared connection pool for collaborators built alongside
// the repositories, such as the Redis-backed capability cache.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// SavePatterns, SaveAggregates, and SaveSuggestions satisfy
// pkg/orchestrator.PersistenceStore by delegating to the per-table
// repositories above.

func (s *Store) SavePatterns(ctx context.Context, patterns []model.Pattern) error {
	return s.Patterns.SaveAll(ctx, patterns)
}

func (s *Store) SaveAggregates(ctx context.Context, aggregates []model.Aggregate) error {
	return s.Patterns.SaveAggregates(ctx, aggregates)
}

func (s *Store) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	return s.Suggestions.SaveAll(ctx, suggestions)
}
