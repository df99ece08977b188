package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/user/issue-stream/internal/domain"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store implements domain.VectorStore on Postgres with the pgvector
// extension. One row per entity; an upsert fully replaces the prior row, so
// re-processing a redelivered record converges to the same state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	table  string
}

// NewStore creates the vector store over an open connection. table is the
// collection name from configuration (default jira_data).
func NewStore(db *sql.DB, logger *slog.Logger, table string) (*Store, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid store table name %q", table)
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "postgres_store"),
		table:  table,
	}, nil
}

// Upsert writes one entry keyed strictly by entity_id, replacing every field
// of any prior row. Arrival order at this stage decides the final value.
func (s *Store) Upsert(ctx context.Context, entry domain.StoreEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", entry.EntityID, err)
	}

	query := `
		INSERT INTO ` + s.table + ` (entity_id, embedding, summary, category, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			summary = EXCLUDED.summary,
			category = EXCLUDED.category,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at;
	`

	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, query,
		entry.EntityID,
		pgvector.NewVector(entry.Vector),
		entry.Summary,
		entry.Category,
		payload,
		updatedAt,
	)
	if err != nil {
		if isUnavailable(err) {
			return &domain.RetryableStoreError{Err: err}
		}
		return fmt.Errorf("upsert %s: %w", entry.EntityID, err)
	}

	return nil
}

// Get returns the entry for one entity, or nil when none exists.
func (s *Store) Get(ctx context.Context, entityID string) (*domain.StoreEntry, error) {
	query := `
		SELECT entity_id, embedding, summary, category, payload, updated_at
		FROM ` + s.table + `
		WHERE entity_id = $1
	`

	var entry domain.StoreEntry
	var vec pgvector.Vector
	var payload []byte

	err := s.db.QueryRowContext(ctx, query, entityID).Scan(
		&entry.EntityID,
		&vec,
		&entry.Summary,
		&entry.Category,
		&payload,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isUnavailable(err) {
			return nil, &domain.RetryableStoreError{Err: err}
		}
		return nil, fmt.Errorf("get %s: %w", entityID, err)
	}

	entry.Vector = vec.Slice()
	if err := json.Unmarshal(payload, &entry.Payload); err != nil {
		entry.Payload = make(map[string]any)
	}

	return &entry, nil
}

// SimilaritySearch returns the limit nearest entries by cosine distance,
// with score = 1 - distance.
func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, limit int) ([]domain.ScoredEntry, error) {
	if limit < 1 {
		return nil, nil
	}

	query := `
		SELECT entity_id, embedding, summary, category, payload, updated_at,
			1 - (embedding <=> $1) AS score
		FROM ` + s.table + `
		ORDER BY embedding <=> $1
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		if isUnavailable(err) {
			return nil, &domain.RetryableStoreError{Err: err}
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []domain.ScoredEntry
	for rows.Next() {
		var rec domain.ScoredEntry
		var vec pgvector.Vector
		var payload []byte

		if err := rows.Scan(&rec.EntityID, &vec, &rec.Summary, &rec.Category, &payload, &rec.UpdatedAt, &rec.Score); err != nil {
			return nil, err
		}

		rec.Vector = vec.Slice()
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			rec.Payload = make(map[string]any)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// isUnavailable reports whether an error means the store cannot be reached
// right now, as opposed to rejecting this particular write.
func isUnavailable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions; class 57: operator intervention
		// (shutdown, crash recovery).
		class := pqErr.Code.Class()
		return class == "08" || class == "57"
	}
	return false
}

var _ domain.VectorStore = (*Store)(nil)
