package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/SeraKah-1/neuronotespro/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ QueueStore    = (*Store)(nil)
	_ ArtifactStore = (*Store)(nil)
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides data access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the schema changes.
// Add a new migration function in the migrations slice below.
const currentSchemaVersion = 2

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// migrations is an ordered list of migration functions.
	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: initial schema
		s.migrateV2, // v1 → v2: add topic index on artifacts
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		id          TEXT PRIMARY KEY,
		position    INTEGER NOT NULL,
		topic       TEXT NOT NULL,
		status      TEXT NOT NULL,
		outline     TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_msg   TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_position ON queue_items(position);

	CREATE TABLE IF NOT EXISTS artifacts (
		id         TEXT PRIMARY KEY,
		item_id    TEXT NOT NULL,
		topic      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_unique ON artifacts(item_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateV2 adds a topic lookup index for the artifact library (v1 → v2).
func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_artifacts_topic ON artifacts(topic, created_at DESC)`)
	return err
}

// ---------------------------------------------------------------------------
// Queue snapshots
// ---------------------------------------------------------------------------

// LoadQueue returns the last persisted queue in order. An empty database
// yields an empty slice, not an error.
func (s *Store) LoadQueue(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, status, outline, retry_count, error_msg, created_at, updated_at
		FROM queue_items ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(&item.ID, &item.Topic, &item.Status, &item.Outline,
			&item.RetryCount, &item.ErrorMsg, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveQueue replaces the persisted queue wholesale in a single transaction.
// The slice order defines the stored positions.
func (s *Store) SaveQueue(ctx context.Context, items []model.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queue_items (id, position, topic, status, outline, retry_count, error_msg, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for pos, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ID, pos, item.Topic, item.Status,
			item.Outline, item.RetryCount, item.ErrorMsg, item.CreatedAt, item.UpdatedAt); err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Artifacts
// ---------------------------------------------------------------------------

// SaveArtifact inserts or replaces an artifact (one per item per kind).
func (s *Store) SaveArtifact(ctx context.Context, a model.Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, item_id, topic, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, kind) DO UPDATE SET
			id = excluded.id,
			topic = excluded.topic,
			body = excluded.body,
			created_at = excluded.created_at`,
		a.ID, a.ItemID, a.Topic, a.Kind, a.Body, a.CreatedAt,
	)
	return err
}

// ListArtifacts returns artifacts matching the filter, newest first.
func (s *Store) ListArtifacts(ctx context.Context, f model.ArtifactFilter) ([]model.Artifact, error) {
	query := `SELECT id, item_id, topic, kind, body, created_at FROM artifacts`
	var conditions []string
	var args []interface{}

	if len(f.Kind) > 0 {
		placeholders := make([]string, len(f.Kind))
		for i, k := range f.Kind {
			placeholders[i] = "?"
			args = append(args, k)
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Query != "" {
		conditions = append(conditions, "topic LIKE ?")
		args = append(args, "%"+f.Query+"%")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := []model.Artifact{}
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Topic, &a.Kind, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifact returns one artifact by ID, or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	var a model.Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, item_id, topic, kind, body, created_at FROM artifacts WHERE id = ?`, id).
		Scan(&a.ID, &a.ItemID, &a.Topic, &a.Kind, &a.Body, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
