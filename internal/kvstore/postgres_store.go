package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore keeps every set in one JSONB table. The schema is owned by
// the goose migrations in migrations/; Migrate exists for tests and local
// runs without the migrate binary.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the kv_records table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_records (
			set_name    VARCHAR(64)  NOT NULL,
			id          VARCHAR(255) NOT NULL,
			data        JSONB        NOT NULL DEFAULT '{}',
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (set_name, id)
		);
	`)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, set string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM kv_records WHERE set_name = $1 ORDER BY id
	`, set)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", set, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", set, err)
		}
		rec, err := decodeJSON(data)
		if err != nil {
			rec = corruptRecord(set, err)
		}
		out = append(out, Entry{ID: id, Record: rec})
	}
	return out, rows.Err()
}

func (s *PostgresStore) BatchGet(ctx context.Context, set string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM kv_records WHERE set_name = $1 AND id = ANY($2)
	`, set, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to batch get %s: %w", set, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", set, err)
		}
		rec, err := decodeJSON(data)
		if err != nil {
			rec = corruptRecord(set, err)
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// BatchPut upserts all entries in one transaction with a prepared statement.
// An entry that fails rolls back to a savepoint so the rest still land.
func (s *PostgresStore) BatchPut(ctx context.Context, set string, entries []Entry) (BatchResult, error) {
	var result BatchResult
	if len(entries) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin batch put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return result, fmt.Errorf("failed to prepare batch put: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var written []string
	for _, e := range entries {
		data, err := encodeJSON(e.Record)
		if err != nil {
			result.Failed = append(result.Failed, e.ID)
			continue
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT kv_entry"); err != nil {
			return result, fmt.Errorf("failed to set savepoint: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, set, e.ID, string(data)); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT kv_entry"); rbErr != nil {
				return result, fmt.Errorf("failed to roll back entry %s: %w", e.ID, rbErr)
			}
			result.Failed = append(result.Failed, e.ID)
			continue
		}
		written = append(written, e.ID)
	}

	if err := tx.Commit(); err != nil {
		result.Failed = append(result.Failed, written...)
		return result, fmt.Errorf("failed to commit batch put: %w", err)
	}
	result.Succeeded = len(written)
	return result, nil
}

func (s *PostgresStore) Get(ctx context.Context, set, id string) (Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM kv_records WHERE set_name = $1 AND id = $2
	`, set, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", set, id, err)
	}
	return decodeJSON(data)
}

func (s *PostgresStore) Put(ctx context.Context, set, id string, rec Record) error {
	data, err := encodeJSON(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL, set, id, string(data)); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", set, id, err)
	}
	return nil
}

func (s *PostgresStore) Truncate(ctx context.Context, set string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_records WHERE set_name = $1`, set); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", set, err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO kv_records (set_name, id, data, updated_at)
	VALUES ($1, $2, $3::jsonb, NOW())
	ON CONFLICT (set_name, id) DO UPDATE SET
		data = EXCLUDED.data,
		updated_at = NOW()
`
