package index

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	cid        TEXT PRIMARY KEY,
	parent_cid TEXT,
	lobe       TEXT NOT NULL,
	key        TEXT NOT NULL DEFAULT '',
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL,
	tags       TEXT,
	archived   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_lobe_key ON records(lobe, key);
`

// SQLite is a file-backed index.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the index database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &storage.UnavailableError{Op: "index open", Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &storage.UnavailableError{Op: "index migrate", Err: err}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, rec *engram.Engram, archived bool) error {
	var tags sql.NullString
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags: %w", err)
		}
		tags = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (cid, parent_cid, lobe, key, payload, created_at, tags, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cid) DO UPDATE SET archived = excluded.archived`,
		rec.CID, rec.ParentCID, rec.Lobe, rec.Key, rec.Payload,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), tags, boolInt(archived))
	if err != nil {
		return &storage.UnavailableError{Op: "index put", Err: err}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, cid string) (*engram.Engram, error) {
	var (
		rec     engram.Engram
		parent  sql.NullString
		created string
		tags    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cid, parent_cid, lobe, key, payload, created_at, tags FROM records WHERE cid = ?`, cid).
		Scan(&rec.CID, &parent, &rec.Lobe, &rec.Key, &rec.Payload, &created, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.NotFoundError{CID: cid}
	}
	if err != nil {
		return nil, &storage.UnavailableError{Op: "index get", Err: err}
	}
	if parent.Valid {
		rec.ParentCID = &parent.String
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.CreatedAt = t
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	return &rec, nil
}

func (s *SQLite) Has(ctx context.Context, cid string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE cid = ?`, cid).Scan(&n); err != nil {
		return false, &storage.UnavailableError{Op: "index has", Err: err}
	}
	return n > 0, nil
}

func (s *SQLite) Recent(ctx context.Context, lobe string, n int) ([]string, error) {
	query := `SELECT cid FROM records`
	args := []any{}
	if lobe != "" {
		query += ` WHERE lobe = ?`
		args = append(args, lobe)
	}
	query += ` ORDER BY rowid DESC`
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "index recent", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, &storage.UnavailableError{Op: "index recent", Err: err}
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, cid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE cid = ?`, cid); err != nil {
		return &storage.UnavailableError{Op: "index delete", Err: err}
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context, lobe string) (*Stats, error) {
	query := `SELECT lobe, COUNT(*), SUM(archived) FROM records`
	args := []any{}
	if lobe != "" {
		query += ` WHERE lobe = ?`
		args = append(args, lobe)
	}
	query += ` GROUP BY lobe`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "index stats", Err: err}
	}
	defer rows.Close()

	st := &Stats{ByLobe: make(map[string]int)}
	for rows.Next() {
		var (
			l        string
			n        int
			archived sql.NullInt64
		)
		if err := rows.Scan(&l, &n, &archived); err != nil {
			return nil, &storage.UnavailableError{Op: "index stats", Err: err}
		}
		st.ByLobe[l] = n
		st.Total += n
		st.Archived += int(archived.Int64)
	}
	return st, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
