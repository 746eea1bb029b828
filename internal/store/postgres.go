package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vaultd/syncd/internal/engine"
)

// ErrNotFound is returned when no active file record matches.
var ErrNotFound = errors.New("file record not found")

// Postgres is the metadata store adapter. The files table is the
// authoritative record of which files exist, who owns them and whether they
// are active.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) DB() *sql.DB {
	return s.db
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns the active file records in the scope.
func (s *Postgres) List(ctx context.Context, scope engine.Scope) ([]engine.MetadataEntry, error) {
	query := `
		SELECT owner_id, file_key, display_name, content_type, size_bytes
		FROM files
		WHERE active = TRUE
	`
	var args []any
	if owner, ok := scope.Owner(); ok {
		query += ` AND owner_id = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY owner_id, file_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	entries := make([]engine.MetadataEntry, 0)
	for rows.Next() {
		var e engine.MetadataEntry
		if err := rows.Scan(&e.OwnerID, &e.Key, &e.Name, &e.ContentType, &e.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return entries, nil
}

// Get returns one active file record.
func (s *Postgres) Get(ctx context.Context, ownerID, key string) (engine.MetadataEntry, error) {
	var e engine.MetadataEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, file_key, display_name, content_type, size_bytes
		FROM files
		WHERE owner_id = $1 AND file_key = $2 AND active = TRUE
	`, ownerID, key).Scan(&e.OwnerID, &e.Key, &e.Name, &e.ContentType, &e.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.MetadataEntry{}, ErrNotFound
	}
	if err != nil {
		return engine.MetadataEntry{}, fmt.Errorf("get file %s/%s: %w", ownerID, key, err)
	}
	return e, nil
}

// Deactivate soft-deletes a file record. Already-inactive records are left
// untouched, so reapplying is a no-op.
func (s *Postgres) Deactivate(ctx context.Context, ownerID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files
		SET active = FALSE, updated_at = NOW()
		WHERE owner_id = $1 AND file_key = $2 AND active = TRUE
	`, ownerID, key)
	if err != nil {
		return fmt.Errorf("deactivate file %s/%s: %w", ownerID, key, err)
	}
	return nil
}

// RegisterUpload records a newly uploaded file. Re-registering an existing
// key refreshes its attributes and reactivates the record.
func (s *Postgres) RegisterUpload(ctx context.Context, entry engine.MetadataEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (owner_id, file_key, display_name, content_type, size_bytes, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (owner_id, file_key) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			active = TRUE,
			updated_at = NOW()
	`, entry.OwnerID, entry.Key, entry.Name, entry.ContentType, entry.Size)
	if err != nil {
		return fmt.Errorf("register upload %s/%s: %w", entry.OwnerID, entry.Key, err)
	}
	return nil
}

// PruneInactive deletes records deactivated before the cutoff. Used by
// operators for housekeeping, never by the engine itself.
func (s *Postgres) PruneInactive(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM files WHERE active = FALSE AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune inactive files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune inactive files: %w", err)
	}
	return n, nil
}
