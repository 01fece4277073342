// Package sqlite provides a graph driver backed by a local SQLite database.
// This is the default durable backend: a single file, no server to run.
package sqlite

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
CREATE TABLE IF NOT EXISTS engrams (
	cid        TEXT PRIMARY KEY,
	parent_cid TEXT REFERENCES engrams(cid),
	lobe       TEXT NOT NULL,
	key        TEXT NOT NULL DEFAULT '',
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL,
	tags       TEXT
);
CREATE INDEX IF NOT EXISTS idx_engrams_lobe ON engrams(lobe);
CREATE INDEX IF NOT EXISTS idx_engrams_parent ON engrams(parent_cid);

CREATE TABLE IF NOT EXISTS heads (
	name TEXT PRIMARY KEY,
	cid  TEXT NOT NULL REFERENCES engrams(cid),
	base TEXT NOT NULL
);
`

// Driver is a SQLite implementation of storage.Driver.
type Driver struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema exists.
func New(path string) (*Driver, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, &storage.UnavailableError{Op: "open", Err: err}
	}
	// SQLite writes are serialized; a single connection avoids SQLITE_BUSY
	// churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &storage.UnavailableError{Op: "migrate", Err: err}
	}
	return &Driver{db: db}, nil
}

func (d *Driver) Put(ctx context.Context, rec *engram.Engram) (bool, error) {
	tags, err := marshalTags(rec.Tags)
	if err != nil {
		return false, fmt.Errorf("encoding tags: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE cid = ?`, rec.CID).Scan(&exists); err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	if exists > 0 {
		return false, nil
	}

	if rec.ParentCID != nil {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE cid = ?`, *rec.ParentCID).Scan(&n); err != nil {
			return false, &storage.UnavailableError{Op: "put", Err: err}
		}
		if n == 0 {
			return false, &storage.NotFoundError{CID: *rec.ParentCID}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO engrams (cid, parent_cid, lobe, key, payload, created_at, tags) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CID, rec.ParentCID, rec.Lobe, rec.Key, rec.Payload, rec.CreatedAt.UTC().Format(time.RFC3339Nano), tags)
	if err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	return true, nil
}

func (d *Driver) Get(ctx context.Context, cid string) (*engram.Engram, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT cid, parent_cid, lobe, key, payload, created_at, tags FROM engrams WHERE cid = ?`, cid)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.NotFoundError{CID: cid}
	}
	if err != nil {
		return nil, &storage.UnavailableError{Op: "get", Err: err}
	}
	return rec, nil
}

func (d *Driver) Has(ctx context.Context, cid string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE cid = ?`, cid).Scan(&n); err != nil {
		return false, &storage.UnavailableError{Op: "has", Err: err}
	}
	return n > 0, nil
}

func (d *Driver) Ancestry(ctx context.Context, cid string, maxDepth int) ([]*engram.Engram, error) {
	var chain []*engram.Engram
	cur := cid
	for depth := 0; maxDepth <= 0 || depth < maxDepth; depth++ {
		rec, err := d.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec)
		if rec.ParentCID == nil {
			break
		}
		cur = *rec.ParentCID
	}
	return chain, nil
}

func (d *Driver) IsAncestor(ctx context.Context, ancestor, descendant string, maxDepth int) (bool, error) {
	cur := descendant
	for depth := 0; maxDepth <= 0 || depth < maxDepth; depth++ {
		if cur == ancestor {
			return true, nil
		}
		var parent sql.NullString
		err := d.db.QueryRowContext(ctx, `SELECT parent_cid FROM engrams WHERE cid = ?`, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return false, &storage.NotFoundError{CID: cur}
		}
		if err != nil {
			return false, &storage.UnavailableError{Op: "is-ancestor", Err: err}
		}
		if !parent.Valid {
			return false, nil
		}
		cur = parent.String
	}
	return false, nil
}

func (d *Driver) Recent(ctx context.Context, lobe string, n int) ([]string, error) {
	query := `SELECT cid FROM engrams`
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

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "recent", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, &storage.UnavailableError{Op: "recent", Err: err}
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}

func (d *Driver) LobeStats(ctx context.Context) (int, map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT lobe, COUNT(*) FROM engrams GROUP BY lobe`)
	if err != nil {
		return 0, nil, &storage.UnavailableError{Op: "stats", Err: err}
	}
	defer rows.Close()

	total := 0
	byLobe := make(map[string]int)
	for rows.Next() {
		var lobe string
		var n int
		if err := rows.Scan(&lobe, &n); err != nil {
			return 0, nil, &storage.UnavailableError{Op: "stats", Err: err}
		}
		byLobe[lobe] = n
		total += n
	}
	return total, byLobe, rows.Err()
}

func (d *Driver) Head(ctx context.Context, name string) (*storage.Head, error) {
	h := &storage.Head{Name: name}
	err := d.db.QueryRowContext(ctx, `SELECT cid, base FROM heads WHERE name = ?`, name).Scan(&h.CID, &h.Base)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.PathNotFoundError{Name: name}
	}
	if err != nil {
		return nil, &storage.UnavailableError{Op: "head", Err: err}
	}
	return h, nil
}

func (d *Driver) Heads(ctx context.Context) ([]*storage.Head, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, cid, base FROM heads ORDER BY name`)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "heads", Err: err}
	}
	defer rows.Close()

	var out []*storage.Head
	for rows.Next() {
		h := &storage.Head{}
		if err := rows.Scan(&h.Name, &h.CID, &h.Base); err != nil {
			return nil, &storage.UnavailableError{Op: "heads", Err: err}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (d *Driver) SeedHead(ctx context.Context, name, cid string) error {
	ok, err := d.Has(ctx, cid)
	if err != nil {
		return err
	}
	if !ok {
		return &storage.NotFoundError{CID: cid}
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO heads (name, cid, base) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, cid, cid)
	if err != nil {
		return &storage.UnavailableError{Op: "seed-head", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &storage.UnavailableError{Op: "seed-head", Err: err}
	}
	if n == 0 {
		h, err := d.Head(ctx, name)
		if err != nil {
			return err
		}
		return &storage.ConflictError{Name: name, Actual: h.CID}
	}
	return nil
}

func (d *Driver) AdvanceHead(ctx context.Context, name, oldCID, newCID string) error {
	ok, err := d.Has(ctx, newCID)
	if err != nil {
		return err
	}
	if !ok {
		return &storage.NotFoundError{CID: newCID}
	}

	res, err := d.db.ExecContext(ctx, `UPDATE heads SET cid = ? WHERE name = ? AND cid = ?`, newCID, name, oldCID)
	if err != nil {
		return &storage.UnavailableError{Op: "advance-head", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &storage.UnavailableError{Op: "advance-head", Err: err}
	}
	if n == 0 {
		// Distinguish a missing path from a lost race.
		h, err := d.Head(ctx, name)
		if err != nil {
			return err
		}
		return &storage.ConflictError{Name: name, Expected: oldCID, Actual: h.CID}
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, cid string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM engrams WHERE cid = ?`, cid); err != nil {
		return &storage.UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*engram.Engram, error) {
	var (
		rec     engram.Engram
		parent  sql.NullString
		created string
		tags    sql.NullString
	)
	if err := row.Scan(&rec.CID, &parent, &rec.Lobe, &rec.Key, &rec.Payload, &created, &tags); err != nil {
		return nil, err
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

func marshalTags(tags map[string]string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
