package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"places_service/internal/domain/model"
)

// PostgresStore is the feature cache backed by a feature_cache table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) DB() *sqlx.DB {
	return r.db
}

func (r *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS feature_cache (
			key       TEXT PRIMARY KEY,
			feature   JSONB NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		)`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create feature_cache: %w", err)
	}
	return nil
}

type featureRow struct {
	Key      string    `db:"key"`
	Feature  []byte    `db:"feature"`
	LastSeen time.Time `db:"last_seen"`
}

func (r *PostgresStore) Put(ctx context.Context, entries []model.CacheEntry) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	const query = `
		INSERT INTO feature_cache (key, feature, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET feature = EXCLUDED.feature, last_seen = EXCLUDED.last_seen`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		data, err := json.Marshal(e.Feature)
		if err != nil {
			return fmt.Errorf("marshal feature %s: %w", e.Key, err)
		}
		if _, err := tx.ExecContext(ctx, query, e.Key, data, e.LastSeen); err != nil {
			return fmt.Errorf("upsert feature %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresStore) GetAll(ctx context.Context) ([]model.CacheEntry, error) {
	var rows []featureRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, feature, last_seen FROM feature_cache ORDER BY key`); err != nil {
		return nil, fmt.Errorf("failed to query feature cache: %w", err)
	}

	entries := make([]model.CacheEntry, 0, len(rows))
	for _, row := range rows {
		var f model.Feature
		if err := json.Unmarshal(row.Feature, &f); err != nil {
			return nil, fmt.Errorf("decode feature %s: %w", row.Key, err)
		}
		entries = append(entries, model.CacheEntry{Key: row.Key, Feature: f, LastSeen: row.LastSeen})
	}
	return entries, nil
}

func (r *PostgresStore) GetMany(ctx context.Context, keys []string) (map[string]model.Feature, error) {
	found := make(map[string]model.Feature, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	var rows []featureRow
	const query = `SELECT key, feature, last_seen FROM feature_cache WHERE key = ANY($1)`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("failed to query feature cache: %w", err)
	}

	for _, row := range rows {
		var f model.Feature
		if err := json.Unmarshal(row.Feature, &f); err != nil {
			return nil, fmt.Errorf("decode feature %s: %w", row.Key, err)
		}
		found[row.Key] = f
	}
	return found, nil
}

func (r *PostgresStore) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE feature_cache`); err != nil {
		return fmt.Errorf("clear feature cache: %w", err)
	}
	return nil
}

func (r *PostgresStore) Close() error {
	return r.db.Close()
}
