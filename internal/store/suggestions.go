package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// SuggestionRepository persists generated suggestions and backs the full
// suggestion lifecycle named in §6 (list/approve/reject/edit/delete/batch).
type SuggestionRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// SaveAll inserts newly generated suggestions. Unlike patterns, suggestions
// are never silently overwritten by a rerun — each pipeline run's
// suggestion_id is freshly minted (pkg/suggest.Generator), so a collision
// here indicates a genuine bug upstream and is surfaced rather than
// swallowed by an upsert.
func (r *SuggestionRepository) SaveAll(ctx context.Context, suggestions []model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin suggestions tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO suggestions (
			suggestion_id, source, title, description, rationale, automation_spec,
			confidence, category, priority, priority_score, status,
			pattern_ref, synergy_ref, validated_entities, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	for _, s := range suggestions {
		var specJSON, entitiesJSON []byte
		if s.AutomationSpec != nil {
			specJSON, err = json.Marshal(s.AutomationSpec)
			if err != nil {
				return fmt.Errorf("store: marshal automation_spec for %s: %w", s.ID, err)
			}
		}
		if len(s.ValidatedEntities) > 0 {
			entitiesJSON, err = json.Marshal(s.ValidatedEntities)
			if err != nil {
				return fmt.Errorf("store: marshal validated_entities for %s: %w", s.ID, err)
			}
		}
		createdAt, updatedAt := s.CreatedAt, s.UpdatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if updatedAt.IsZero() {
			updatedAt = createdAt
		}
		_, err = tx.ExecContext(ctx, stmt,
			s.ID, s.Source, s.Title, s.Description, s.Rationale, nullableJSON(specJSON),
			s.Confidence, s.Category, s.Priority, s.PriorityScore, s.Status,
			s.PatternRef, s.SynergyRef, nullableJSON(entitiesJSON), createdAt, updatedAt)
		if err != nil {
			return fmt.Errorf("store: insert suggestion %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit suggestions tx: %w", err)
	}
	r.log.Debug("inserted suggestions", zap.Int("count", len(suggestions)))
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

type suggestionRow struct {
	SuggestionID      string          `db:"suggestion_id"`
	Source            string          `db:"source"`
	Title             string          `db:"title"`
	Description       string          `db:"description"`
	Rationale         string          `db:"rationale"`
	AutomationSpec    []byte          `db:"automation_spec"`
	Confidence        float64         `db:"confidence"`
	Category          string          `db:"category"`
	Priority          string          `db:"priority"`
	PriorityScore     int             `db:"priority_score"`
	Status            string          `db:"status"`
	PatternRef        *string         `db:"pattern_ref"`
	SynergyRef        *string         `db:"synergy_ref"`
	ValidatedEntities []byte          `db:"validated_entities"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (row suggestionRow) toModel() (model.Suggestion, error) {
	s := model.Suggestion{
		ID:            row.SuggestionID,
		Source:        model.SuggestionSource(row.Source),
		Title:         row.Title,
		Description:   row.Description,
		Rationale:     row.Rationale,
		Confidence:    row.Confidence,
		Category:      model.SuggestionCategory(row.Category),
		Priority:      model.Priority(row.Priority),
		PriorityScore: row.PriorityScore,
		Status:        model.SuggestionStatus(row.Status),
		PatternRef:    row.PatternRef,
		SynergyRef:    row.SynergyRef,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if len(row.AutomationSpec) > 0 {
		var spec model.AutomationSpec
		if err := json.Unmarshal(row.AutomationSpec, &spec); err != nil {
			return model.Suggestion{}, fmt.Errorf("store: decode automation_spec for %s: %w", row.SuggestionID, err)
		}
		s.AutomationSpec = &spec
	}
	if len(row.ValidatedEntities) > 0 {
		if err := json.Unmarshal(row.ValidatedEntities, &s.ValidatedEntities); err != nil {
			return model.Suggestion{}, fmt.Errorf("store: decode validated_entities for %s: %w", row.SuggestionID, err)
		}
	}
	return s, nil
}

// List returns suggestions, optionally filtered to one status ("" means all).
func (r *SuggestionRepository) List(ctx context.Context, status model.SuggestionStatus) ([]model.Suggestion, error) {
	query := `SELECT suggestion_id, source, title, description, rationale, automation_spec,
		confidence, category, priority, priority_score, status, pattern_ref, synergy_ref,
		validated_entities, created_at, updated_at FROM suggestions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY priority_score DESC, created_at DESC`

	var rows []suggestionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("store: list suggestions: %w", err)
	}
	out := make([]model.Suggestion, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get looks up one suggestion by ID.
func (r *SuggestionRepository) Get(ctx context.Context, id string) (model.Suggestion, error) {
	var row suggestionRow
	err := r.db.GetContext(ctx, &row, `SELECT suggestion_id, source, title, description, rationale,
		automation_spec, confidence, category, priority, priority_score, status, pattern_ref,
		synergy_ref, validated_entities, created_at, updated_at FROM suggestions WHERE suggestion_id = $1`, id)
	if err != nil {
		return model.Suggestion{}, apperrors.Wrap(apperrors.KindNotFound, "suggestion not found", err)
	}
	return row.toModel()
}

// SetStatus transitions a suggestion to status, backing approve/reject.
func (r *SuggestionRepository) SetStatus(ctx context.Context, id string, status model.SuggestionStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE suggestions SET status = $1, updated_at = now() WHERE suggestion_id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: set suggestion %s status: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// Edit overwrites the mutable fields of a suggestion (title/description/
// automation_spec), marking it model.StatusModified, backing the PATCH
// /api/suggestions/{id} route.
func (r *SuggestionRepository) Edit(ctx context.Context, id, title, description string, spec *model.AutomationSpec) error {
	var specJSON []byte
	var err error
	if spec != nil {
		specJSON, err = json.Marshal(spec)
		if err != nil {
			return fmt.Errorf("store: marshal edited automation_spec for %s: %w", id, err)
		}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE suggestions SET title = $1, description = $2, automation_spec = $3,
			status = $4, updated_at = now() WHERE suggestion_id = $5`,
		title, description, nullableJSON(specJSON), model.StatusModified, id)
	if err != nil {
		return fmt.Errorf("store: edit suggestion %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// Delete removes a suggestion outright, backing DELETE /api/suggestions/{id}.
func (r *SuggestionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM suggestions WHERE suggestion_id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete suggestion %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// BatchSetStatus transitions every id to status in one statement, backing
// /api/suggestions/batch/approve and /api/suggestions/batch/reject. It
// returns the count actually updated rather than erroring on a partial
// match, since a batch call naming one stale ID shouldn't fail the rest.
func (r *SuggestionRepository) BatchSetStatus(ctx context.Context, ids []string, status model.SuggestionStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE suggestions SET status = $1, updated_at = now() WHERE suggestion_id = ANY($2)`,
		status, pqStringArray(ids))
	if err != nil {
		return 0, fmt.Errorf("store: batch set status: %w", err)
	}
	return result.RowsAffected()
}

func requireRowAffected(result interface{ RowsAffected() (int64, error) }, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return apperrors.New(apperrors.KindNotFound, fmt.Sprintf("suggestion %s not found", id))
	}
	return nil
}

// pqStringArray renders a Go string slice as a Postgres text[] literal
// without depending on lib/pq's array helper (not in this module's stack).
func pqStringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}

// SynergyRepository persists cross-device synergy opportunities.
type SynergyRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// SaveAll upserts synergy opportunities by synergy_id.
func (r *SynergyRepository) SaveAll(ctx context.Context, synergies []model.SynergyOpportunity) error {
	if len(synergies) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin synergies tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO synergy_opportunities (
			synergy_id, synergy_type, devices, relationship, area,
			impact_score, complexity, confidence, metadata, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (synergy_id) DO UPDATE SET
			impact_score = EXCLUDED.impact_score,
			confidence = EXCLUDED.confidence,
			metadata = EXCLUDED.metadata,
			updated_at = now()`

	for _, s := range synergies {
		devicesJSON, err := json.Marshal(s.Devices)
		if err != nil {
			return fmt.Errorf("store: marshal devices for synergy %s: %w", s.SynergyID, err)
		}
		var metadataJSON []byte
		if s.Metadata != nil {
			metadataJSON, err = json.Marshal(s.Metadata)
			if err != nil {
				return fmt.Errorf("store: marshal metadata for synergy %s: %w", s.SynergyID, err)
			}
		}
		_, err = tx.ExecContext(ctx, stmt, s.SynergyID, s.SynergyType, devicesJSON, s.Relationship,
			s.Area, s.ImpactScore, s.Complexity, s.Confidence, nullableJSON(metadataJSON))
		if err != nil {
			return fmt.Errorf("store: upsert synergy %s: %w", s.SynergyID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit synergies tx: %w", err)
	}
	r.log.Debug("upserted synergies", zap.Int("count", len(synergies)))
	return nil
}

type synergyRow struct {
	SynergyID    string  `db:"synergy_id"`
	SynergyType  string  `db:"synergy_type"`
	Devices      []byte  `db:"devices"`
	Relationship string  `db:"relationship"`
	Area         string  `db:"area"`
	ImpactScore  float64 `db:"impact_score"`
	Complexity   string  `db:"complexity"`
	Confidence   float64 `db:"confidence"`
	Metadata     []byte  `db:"metadata"`
}

func (row synergyRow) toModel() (model.SynergyOpportunity, error) {
	s := model.SynergyOpportunity{
		SynergyID:    row.SynergyID,
		SynergyType:  model.SynergyType(row.SynergyType),
		Relationship: row.Relationship,
		Area:         row.Area,
		ImpactScore:  row.ImpactScore,
		Complexity:   model.Complexity(row.Complexity),
		Confidence:   row.Confidence,
	}
	if err := json.Unmarshal(row.Devices, &s.Devices); err != nil {
		return model.SynergyOpportunity{}, fmt.Errorf("store: decode devices for synergy %s: %w", row.SynergyID, err)
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &s.Metadata); err != nil {
			return model.SynergyOpportunity{}, fmt.Errorf("store: decode metadata for synergy %s: %w", row.SynergyID, err)
		}
	}
	return s, nil
}

// List returns every stored synergy opportunity, highest impact first.
func (r *SynergyRepository) List(ctx context.Context) ([]model.SynergyOpportunity, error) {
	var rows []synergyRow
	err := r.db.SelectContext(ctx, &rows, `SELECT synergy_id, synergy_type, devices, relationship, area,
		impact_score, complexity, confidence, metadata FROM synergy_opportunities ORDER BY impact_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list synergies: %w", err)
	}
	out := make([]model.SynergyOpportunity, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get looks up one synergy opportunity by ID.
func (r *SynergyRepository) Get(ctx context.Context, id string) (model.SynergyOpportunity, error) {
	var row synergyRow
	err := r.db.GetContext(ctx, &row, `SELECT synergy_id, synergy_type, devices, relationship, area,
		impact_score, complexity, confidence, metadata FROM synergy_opportunities WHERE synergy_id = $1`, id)
	if err != nil {
		return model.SynergyOpportunity{}, apperrors.Wrap(apperrors.KindNotFound, "synergy not found", err)
	}
	return row.toModel()
}

// Stats summarises stored synergies by type — backs /api/synergies/stats.
func (r *SynergyRepository) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT synergy_type, count(*) FROM synergy_opportunities GROUP BY synergy_type`)
	if err != nil {
		return nil, fmt.Errorf("store: synergy stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var synergyType string
		var count int
		if err := rows.Scan(&synergyType, &count); err != nil {
			return nil, fmt.Errorf("store: scan synergy stats: %w", err)
		}
		stats[synergyType] = count
	}
	return stats, rows.Err()
}

// FeedbackRepository persists user dispositions on suggestions.
type FeedbackRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Create inserts one feedback record.
func (r *FeedbackRepository) Create(ctx context.Context, feedback model.Feedback) error {
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_feedback (feedback_id, suggestion_id, action, free_text, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
		feedback.ID, feedback.SuggestionID, feedback.Action, feedback.FreeText, feedback.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert feedback %s: %w", feedback.ID, err)
	}
	return nil
}
