package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// PatternRepository persists detector output: patterns and their daily
// aggregate rollups, grounded on the "patterns"/"daily_aggregates" tables
// named in the persisted-state shape.
type PatternRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// SaveAll upserts patterns by pattern_id, matching the orchestrator's
// PersistenceStore.SavePatterns contract: a rerun of the same detection
// window overwrites rather than duplicates.
func (r *PatternRepository) SaveAll(ctx context.Context, patterns []model.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin patterns tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO patterns (pattern_id, pattern_type, confidence, occurrences, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (pattern_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			occurrences = EXCLUDED.occurrences,
			payload = EXCLUDED.payload,
			updated_at = now()`

	for _, p := range patterns {
		payload, err := patternPayload(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, p.PatternID, p.PatternType, p.Confidence, p.Occurrences, payload); err != nil {
			return fmt.Errorf("store: upsert pattern %s: %w", p.PatternID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit patterns tx: %w", err)
	}
	r.log.Debug("upserted patterns", zap.Int("count", len(patterns)))
	return nil
}

func patternPayload(p model.Pattern) ([]byte, error) {
	switch p.PatternType {
	case model.PatternTimeOfDay:
		return json.Marshal(p.TimeOfDay)
	case model.PatternCoOccurrence:
		return json.Marshal(p.CoOccurrence)
	default:
		return nil, fmt.Errorf("store: pattern %s has unknown type %q", p.PatternID, p.PatternType)
	}
}

// SaveAggregates upserts per-day, per-entity rollups keyed by (date, entity_id).
func (r *PatternRepository) SaveAggregates(ctx context.Context, aggregates []model.Aggregate) error {
	if len(aggregates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin aggregates tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO daily_aggregates (date, entity_id, domain, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (date, entity_id) DO UPDATE SET
			domain = EXCLUDED.domain,
			payload = EXCLUDED.payload,
			updated_at = now()`

	for _, a := range aggregates {
		payload, err := aggregatePayload(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, a.Date, a.EntityID, a.Domain, payload); err != nil {
			return fmt.Errorf("store: upsert aggregate %s/%s: %w", a.Date, a.EntityID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit aggregates tx: %w", err)
	}
	r.log.Debug("upserted aggregates", zap.Int("count", len(aggregates)))
	return nil
}

func aggregatePayload(a model.Aggregate) ([]byte, error) {
	switch {
	case a.TimeOfDay != nil:
		return json.Marshal(a.TimeOfDay)
	case a.CoOccurrence != nil:
		return json.Marshal(a.CoOccurrence)
	default:
		return nil, fmt.Errorf("store: aggregate %s/%s has neither payload populated", a.Date, a.EntityID)
	}
}

// patternRow is the sqlx scan target for a stored pattern.
type patternRow struct {
	PatternID   string    `db:"pattern_id"`
	PatternType string    `db:"pattern_type"`
	Confidence  float64   `db:"confidence"`
	Occurrences int       `db:"occurrences"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row patternRow) toModel() (model.Pattern, error) {
	p := model.Pattern{
		PatternID:   row.PatternID,
		PatternType: model.PatternType(row.PatternType),
		Confidence:  row.Confidence,
		Occurrences: row.Occurrences,
		CreatedAt:   row.CreatedAt,
	}
	switch p.PatternType {
	case model.PatternTimeOfDay:
		var payload model.TimeOfDayPayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return model.Pattern{}, fmt.Errorf("store: decode time_of_day payload for %s: %w", row.PatternID, err)
		}
		p.TimeOfDay = &payload
	case model.PatternCoOccurrence:
		var payload model.CoOccurrencePayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return model.Pattern{}, fmt.Errorf("store: decode co_occurrence payload for %s: %w", row.PatternID, err)
		}
		p.CoOccurrence = &payload
	}
	return p, nil
}

// List returns every stored pattern, most recent first, bounded by limit
// (0 means no limit) — backs the /api/patterns/list route.
func (r *PatternRepository) List(ctx context.Context, limit int) ([]model.Pattern, error) {
	query := `SELECT pattern_id, pattern_type, confidence, occurrences, payload, created_at
		FROM patterns ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var rows []patternRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list patterns: %w", err)
	}
	out := make([]model.Pattern, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Stats summarises stored patterns by type — backs /api/patterns/stats.
func (r *PatternRepository) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT pattern_type, count(*) FROM patterns GROUP BY pattern_type`)
	if err != nil {
		return nil, fmt.Errorf("store: pattern stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var patternType string
		var count int
		if err := rows.Scan(&patternType, &count); err != nil {
			return nil, fmt.Errorf("store: scan pattern stats: %w", err)
		}
		stats[patternType] = count
	}
	return stats, rows.Err()
}

// Cleanup deletes patterns older than cutoff — backs the DELETE
// /api/patterns/cleanup route. Returns the number of rows removed.
func (r *PatternRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM patterns WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup patterns: %w", err)
	}
	return result.RowsAffected()
}
