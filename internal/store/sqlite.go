package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS collections (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	item_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	collection_id TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	data          TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (collection_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS fingerprints (
	fingerprint   TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL,
	claimant      TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	collection_id TEXT NOT NULL DEFAULT '',
	calls         INTEGER NOT NULL,
	cost          REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS failed_queries (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	strategy   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_collection ON fingerprints(collection_id);
CREATE INDEX IF NOT EXISTS idx_failed_queries_created ON failed_queries(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, name string) (*model.Collection, error) {
	now := time.Now().UTC()
	c := &model.Collection{ID: uuid.New().String(), Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, name, item_count, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		c.ID, c.Name, now, now,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: insert collection")
	}
	return c, nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	var c model.Collection
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, item_count, created_at, updated_at FROM collections WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.ItemCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: collection %s", id)
	}
	if err != nil {
		return nil, storageErr(err, "sqlite: get collection")
	}
	return &c, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]model.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, item_count, created_at, updated_at FROM collections ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: list collections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Collection
	for rows.Next() {
		var c model.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.ItemCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr(err, "sqlite: scan collection")
		}
		out = append(out, c)
	}
	return out, storageErr(rows.Err(), "sqlite: iterate collections")
}

func (s *SQLiteStore) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "sqlite: begin delete collection")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM records WHERE collection_id = ?`,
		`DELETE FROM fingerprints WHERE collection_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return storageErr(err, "sqlite: delete collection data")
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return storageErr(err, "sqlite: delete collection")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: collection %s", id)
	}
	return storageErr(tx.Commit(), "sqlite: commit delete collection")
}

func (s *SQLiteStore) PutRecord(ctx context.Context, collectionID, fingerprint string, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return resilience.NewValidationError(eris.Wrap(err, "sqlite: marshal record"))
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "sqlite: begin put record")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection_id, fingerprint, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection_id, fingerprint) DO NOTHING`,
		collectionID, fingerprint, string(data), now, now,
	)
	if err != nil {
		return storageErr(err, "sqlite: insert record")
	}
	inserted, _ := res.RowsAffected()

	if inserted == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET data = ?, updated_at = ? WHERE collection_id = ? AND fingerprint = ?`,
			string(data), now, collectionID, fingerprint,
		); err != nil {
			return storageErr(err, "sqlite: update record")
		}
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE collections SET item_count = item_count + ?, updated_at = ? WHERE id = ?`,
		inserted, now, collectionID,
	)
	if err != nil {
		return storageErr(err, "sqlite: bump collection")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: collection %s", collectionID)
	}
	return storageErr(tx.Commit(), "sqlite: commit put record")
}

func (s *SQLiteStore) GetAll(ctx context.Context, collectionID string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection_id = ? ORDER BY created_at, fingerprint`, collectionID,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: get records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(err, "sqlite: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, resilience.NewValidationError(eris.Wrap(err, "sqlite: unmarshal record"))
		}
		out = append(out, rec)
	}
	return out, storageErr(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) HasRecord(ctx context.Context, collectionID, fingerprint string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection_id = ? AND fingerprint = ?`, collectionID, fingerprint,
	).Scan(&n)
	if err != nil {
		return false, storageErr(err, "sqlite: has record")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertFingerprint(ctx context.Context, fingerprint, collectionID, claimant string) (string, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (fingerprint, collection_id, claimant, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, collectionID, claimant, time.Now().UTC(),
	)
	if err != nil {
		return "", false, storageErr(err, "sqlite: insert fingerprint")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return collectionID, true, nil
	}

	var owner, holder string
	err = s.db.QueryRowContext(ctx,
		`SELECT collection_id, claimant FROM fingerprints WHERE fingerprint = ?`, fingerprint,
	).Scan(&owner, &holder)
	if err != nil {
		return "", false, storageErr(err, "sqlite: read fingerprint owner")
	}
	return owner, owner == collectionID && holder == claimant, nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "sqlite: get blob")
	}
	return data, nil
}

func (s *SQLiteStore) PutBlob(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	return storageErr(err, "sqlite: put blob")
}

func (s *SQLiteStore) DeleteBlob(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	return storageErr(err, "sqlite: delete blob")
}

func (s *SQLiteStore) ListBlobs(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM blobs WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix),
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: list blobs")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, storageErr(err, "sqlite: scan blob")
		}
		out[key] = data
	}
	return out, storageErr(rows.Err(), "sqlite: iterate blobs")
}

func (s *SQLiteStore) DeleteBlobs(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, storageErr(err, "sqlite: delete blobs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, ev model.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, strategy, collection_id, calls, cost, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Strategy, ev.CollectionID, ev.Calls, ev.Cost, ev.CreatedAt,
	)
	return storageErr(err, "sqlite: record usage")
}

func (s *SQLiteStore) UsageTotals(ctx context.Context) ([]model.UsageTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, SUM(calls), SUM(cost) FROM usage_events GROUP BY strategy ORDER BY strategy`,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: usage totals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UsageTotal
	for rows.Next() {
		var u model.UsageTotal
		if err := rows.Scan(&u.Strategy, &u.Calls, &u.Cost); err != nil {
			return nil, storageErr(err, "sqlite: scan usage")
		}
		out = append(out, u)
	}
	return out, storageErr(rows.Err(), "sqlite: iterate usage")
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, fq model.FailedQuery) error {
	if fq.ID == "" {
		fq.ID = uuid.New().String()
	}
	if fq.CreatedAt.IsZero() {
		fq.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_queries (id, query, strategy, error, error_kind, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fq.ID, fq.Query, fq.Strategy, fq.Error, fq.ErrorKind, fq.CreatedAt,
	)
	return storageErr(err, "sqlite: record failure")
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]model.FailedQuery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, strategy, error, error_kind, created_at FROM failed_queries ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, storageErr(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FailedQuery
	for rows.Next() {
		var fq model.FailedQuery
		if err := rows.Scan(&fq.ID, &fq.Query, &fq.Strategy, &fq.Error, &fq.ErrorKind, &fq.CreatedAt); err != nil {
			return nil, storageErr(err, "sqlite: scan failure")
		}
		out = append(out, fq)
	}
	return out, storageErr(rows.Err(), "sqlite: iterate failures")
}

func (s *SQLiteStore) ClearFailures(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failed_queries`)
	if err != nil {
		return 0, storageErr(err, "sqlite: clear failures")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// storageErr wraps err with msg and tags it as a storage failure.
func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return resilience.NewStorageError(eris.Wrap(err, msg))
}
