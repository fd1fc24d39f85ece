package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	upsertRecordSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "records",
		Columns:      []string{"collection_id", "fingerprint", "data", "created_at", "updated_at"},
		ConflictKeys: []string{"collection_id", "fingerprint"},
		UpdateCols:   []string{"data", "updated_at"},
		Returning:    "(xmax = 0) AS inserted",
	})
	insertFingerprintSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "fingerprints",
		Columns:      []string{"fingerprint", "collection_id", "claimant", "created_at"},
		ConflictKeys: []string{"fingerprint"},
		DoNothing:    true,
		Returning:    "collection_id",
	})
	upsertBlobSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "blobs",
		Columns:      []string{"key", "data", "updated_at"},
		ConflictKeys: []string{"key"},
	})
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS collections (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	item_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	collection_id TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	data          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint   TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	claimant      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	strategy      TEXT NOT NULL,
	collection_id TEXT NOT NULL DEFAULT '',
	calls         INTEGER NOT NULL,
	cost          DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS failed_queries (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query      TEXT NOT NULL,
	strategy   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_collection ON fingerprints(collection_id);
CREATE INDEX IF NOT EXISTS idx_failed_queries_created ON failed_queries(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCollection(ctx context.Context, name string) (*model.Collection, error) {
	now := time.Now().UTC()
	c := &model.Collection{ID: uuid.New().String(), Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collections (id, name, item_count, created_at, updated_at) VALUES ($1, $2, 0, $3, $4)`,
		c.ID, c.Name, now, now,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: insert collection")
	}
	return c, nil
}

func (s *PostgresStore) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	var c model.Collection
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, item_count, created_at, updated_at FROM collections WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.ItemCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: collection %s", id)
	}
	if err != nil {
		return nil, storageErr(err, "postgres: get collection")
	}
	return &c, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]model.Collection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, item_count, created_at, updated_at FROM collections ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: list collections")
	}
	defer rows.Close()

	var out []model.Collection
	for rows.Next() {
		var c model.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.ItemCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr(err, "postgres: scan collection")
		}
		out = append(out, c)
	}
	return out, storageErr(rows.Err(), "postgres: iterate collections")
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr(err, "postgres: begin delete collection")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM records WHERE collection_id = $1`, id); err != nil {
		return storageErr(err, "postgres: delete records")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fingerprints WHERE collection_id = $1`, id); err != nil {
		return storageErr(err, "postgres: release fingerprints")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return storageErr(err, "postgres: delete collection")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: collection %s", id)
	}
	return storageErr(tx.Commit(ctx), "postgres: commit delete collection")
}

func (s *PostgresStore) PutRecord(ctx context.Context, collectionID, fingerprint string, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return resilience.NewValidationError(eris.Wrap(err, "postgres: marshal record"))
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr(err, "postgres: begin put record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var inserted bool
	if err := tx.QueryRow(ctx, upsertRecordSQL, collectionID, fingerprint, data, now, now).Scan(&inserted); err != nil {
		return storageErr(err, "postgres: upsert record")
	}

	delta := 0
	if inserted {
		delta = 1
	}
	tag, err := tx.Exec(ctx,
		`UPDATE collections SET item_count = item_count + $1, updated_at = $2 WHERE id = $3`,
		delta, now, collectionID,
	)
	if err != nil {
		return storageErr(err, "postgres: bump collection")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: collection %s", collectionID)
	}
	return storageErr(tx.Commit(ctx), "postgres: commit put record")
}

func (s *PostgresStore) GetAll(ctx context.Context, collectionID string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM records WHERE collection_id = $1 ORDER BY created_at, fingerprint`, collectionID,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: get records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(err, "postgres: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, resilience.NewValidationError(eris.Wrap(err, "postgres: unmarshal record"))
		}
		out = append(out, rec)
	}
	return out, storageErr(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) HasRecord(ctx context.Context, collectionID, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE collection_id = $1 AND fingerprint = $2)`,
		collectionID, fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, storageErr(err, "postgres: has record")
	}
	return exists, nil
}

func (s *PostgresStore) InsertFingerprint(ctx context.Context, fingerprint, collectionID, claimant string) (string, bool, error) {
	var owner string
	err := s.pool.QueryRow(ctx, insertFingerprintSQL, fingerprint, collectionID, claimant, time.Now().UTC()).Scan(&owner)
	if err == nil {
		return owner, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, storageErr(err, "postgres: insert fingerprint")
	}

	var holder string
	err = s.pool.QueryRow(ctx,
		`SELECT collection_id, claimant FROM fingerprints WHERE fingerprint = $1`, fingerprint,
	).Scan(&owner, &holder)
	if err != nil {
		return "", false, storageErr(err, "postgres: read fingerprint owner")
	}
	return owner, owner == collectionID && holder == claimant, nil
}

func (s *PostgresStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "postgres: get blob")
	}
	return data, nil
}

func (s *PostgresStore) PutBlob(ctx context.Context, key string, data []byte) error {
	_, err := s.pool.Exec(ctx, upsertBlobSQL, key, data, time.Now().UTC())
	return storageErr(err, "postgres: put blob")
}

func (s *PostgresStore) DeleteBlob(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key)
	return storageErr(err, "postgres: delete blob")
}

func (s *PostgresStore) ListBlobs(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, data FROM blobs WHERE key LIKE $1`, likePrefix(prefix))
	if err != nil {
		return nil, storageErr(err, "postgres: list blobs")
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, storageErr(err, "postgres: scan blob")
		}
		out[key] = data
	}
	return out, storageErr(rows.Err(), "postgres: iterate blobs")
}

func (s *PostgresStore) DeleteBlobs(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE key LIKE $1`, likePrefix(prefix))
	if err != nil {
		return 0, storageErr(err, "postgres: delete blobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, ev model.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (id, strategy, collection_id, calls, cost, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Strategy, ev.CollectionID, ev.Calls, ev.Cost, ev.CreatedAt,
	)
	return storageErr(err, "postgres: record usage")
}

func (s *PostgresStore) UsageTotals(ctx context.Context) ([]model.UsageTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT strategy, SUM(calls)::int, SUM(cost) FROM usage_events GROUP BY strategy ORDER BY strategy`,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: usage totals")
	}
	defer rows.Close()

	var out []model.UsageTotal
	for rows.Next() {
		var u model.UsageTotal
		if err := rows.Scan(&u.Strategy, &u.Calls, &u.Cost); err != nil {
			return nil, storageErr(err, "postgres: scan usage")
		}
		out = append(out, u)
	}
	return out, storageErr(rows.Err(), "postgres: iterate usage")
}

func (s *PostgresStore) RecordFailure(ctx context.Context, fq model.FailedQuery) error {
	if fq.ID == "" {
		fq.ID = uuid.New().String()
	}
	if fq.CreatedAt.IsZero() {
		fq.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_queries (id, query, strategy, error, error_kind, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		fq.ID, fq.Query, fq.Strategy, fq.Error, fq.ErrorKind, fq.CreatedAt,
	)
	return storageErr(err, "postgres: record failure")
}

func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]model.FailedQuery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, query, strategy, error, error_kind, created_at FROM failed_queries ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, storageErr(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.FailedQuery
	for rows.Next() {
		var fq model.FailedQuery
		if err := rows.Scan(&fq.ID, &fq.Query, &fq.Strategy, &fq.Error, &fq.ErrorKind, &fq.CreatedAt); err != nil {
			return nil, storageErr(err, "postgres: scan failure")
		}
		out = append(out, fq)
	}
	return out, storageErr(rows.Err(), "postgres: iterate failures")
}

func (s *PostgresStore) ClearFailures(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM failed_queries`)
	if err != nil {
		return 0, storageErr(err, "postgres: clear failures")
	}
	return int(tag.RowsAffected()), nil
}
