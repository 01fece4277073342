// Package postgres provides a graph driver backed by PostgreSQL, for
// deployments where several agents share one substrate host.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corticalco/engram/pkg/engram"
	"github.com/corticalco/engram/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS engrams (
	seq        BIGSERIAL,
	cid        TEXT PRIMARY KEY,
	parent_cid TEXT REFERENCES engrams(cid),
	lobe       TEXT NOT NULL,
	key        TEXT NOT NULL DEFAULT '',
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	tags       JSONB
);
CREATE INDEX IF NOT EXISTS idx_engrams_lobe ON engrams(lobe);
CREATE INDEX IF NOT EXISTS idx_engrams_parent ON engrams(parent_cid);

CREATE TABLE IF NOT EXISTS heads (
	name TEXT PRIMARY KEY,
	cid  TEXT NOT NULL REFERENCES engrams(cid),
	base TEXT NOT NULL
);
`

// Driver is a PostgreSQL implementation of storage.Driver.
type Driver struct {
	db *sql.DB
}

// New connects using a pgx connection string (postgres://...) and ensures
// the schema exists.
func New(dsn string) (*Driver, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &storage.UnavailableError{Op: "ping", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &storage.UnavailableError{Op: "migrate", Err: err}
	}
	return &Driver{db: db}, nil
}

func (d *Driver) Put(ctx context.Context, rec *engram.Engram) (bool, error) {
	var tags []byte
	if len(rec.Tags) > 0 {
		b, err := json.Marshal(rec.Tags)
		if err != nil {
			return false, fmt.Errorf("encoding tags: %w", err)
		}
		tags = b
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	if rec.ParentCID != nil {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE cid = $1`, *rec.ParentCID).Scan(&n); err != nil {
			return false, &storage.UnavailableError{Op: "put", Err: err}
		}
		if n == 0 {
			return false, &storage.NotFoundError{CID: *rec.ParentCID}
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO engrams (cid, parent_cid, lobe, key, payload, created_at, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (cid) DO NOTHING`,
		rec.CID, rec.ParentCID, rec.Lobe, rec.Key, rec.Payload, rec.CreatedAt.UTC(), tags)
	if err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &storage.UnavailableError{Op: "put", Err: err}
	}
	return n > 0, nil
}

func (d *Driver) Get(ctx context.Context, cid string) (*engram.Engram, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT cid, parent_cid, lobe, key, payload, created_at, tags FROM engrams WHERE cid = $1`, cid)

	var (
		rec    engram.Engram
		parent sql.NullString
		tags   []byte
	)
	err := row.Scan(&rec.CID, &parent, &rec.Lobe, &rec.Key, &rec.Payload, &rec.CreatedAt, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.NotFoundError{CID: cid}
	}
	if err != nil {
		return nil, &storage.UnavailableError{Op: "get", Err: err}
	}
	if parent.Valid {
		rec.ParentCID = &parent.String
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (d *Driver) Has(ctx context.Context, cid string) (bool, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM engrams WHERE cid = $1`, cid).Scan(&n); err != nil {
		return false, &storage.UnavailableError{Op: "has", Err: err}
	}
	return n > 0, nil
}

// Ancestry walks parent links server-side with a recursive CTE, bounded by
// maxDepth (0 means unbounded).
func (d *Driver) Ancestry(ctx context.Context, cid string, maxDepth int) ([]*engram.Engram, error) {
	ok, err := d.Has(ctx, cid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &storage.NotFoundError{CID: cid}
	}

	depth := maxDepth
	if depth <= 0 {
		depth = 1 << 30
	}
	rows, err := d.db.QueryContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT e.*, 1 AS depth FROM engrams e WHERE e.cid = $1
			UNION ALL
			SELECT e.*, c.depth + 1 FROM engrams e
			JOIN chain c ON e.cid = c.parent_cid
			WHERE c.depth < $2
		)
		SELECT cid, parent_cid, lobe, key, payload, created_at, tags FROM chain ORDER BY depth`,
		cid, depth)
	if err != nil {
		return nil, &storage.UnavailableError{Op: "ancestry", Err: err}
	}
	defer rows.Close()

	var chain []*engram.Engram
	for rows.Next() {
		var (
			rec    engram.Engram
			parent sql.NullString
			tags   []byte
		)
		if err := rows.Scan(&rec.CID, &parent, &rec.Lobe, &rec.Key, &rec.Payload, &rec.CreatedAt, &tags); err != nil {
			return nil, &storage.UnavailableError{Op: "ancestry", Err: err}
		}
		if parent.Valid {
			rec.ParentCID = &parent.String
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &rec.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags: %w", err)
			}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		chain = append(chain, &rec)
	}
	return chain, rows.Err()
}

func (d *Driver) IsAncestor(ctx context.Context, ancestor, descendant string, maxDepth int) (bool, error) {
	chain, err := d.Ancestry(ctx, descendant, maxDepth)
	if err != nil {
		return false, err
	}
	for _, rec := range chain {
		if rec.CID == ancestor {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) Recent(ctx context.Context, lobe string, n int) ([]string, error) {
	query := `SELECT cid FROM engrams`
	args := []any{}
	if lobe != "" {
		query += ` WHERE lobe = $1`
		args = append(args, lobe)
	}
	query += ` ORDER BY seq DESC`
	if n > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
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
	err := d.db.QueryRowContext(ctx, `SELECT cid, base FROM heads WHERE name = $1`, name).Scan(&h.CID, &h.Base)
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
		`INSERT INTO heads (name, cid, base) VALUES ($1, $2, $2)
		 ON CONFLICT (name) DO NOTHING`,
		name, cid)
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

	res, err := d.db.ExecContext(ctx, `UPDATE heads SET cid = $1 WHERE name = $2 AND cid = $3`, newCID, name, oldCID)
	if err != nil {
		return &storage.UnavailableError{Op: "advance-head", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &storage.UnavailableError{Op: "advance-head", Err: err}
	}
	if n == 0 {
		h, err := d.Head(ctx, name)
		if err != nil {
			return err
		}
		return &storage.ConflictError{Name: name, Expected: oldCID, Actual: h.CID}
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, cid string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM engrams WHERE cid = $1`, cid); err != nil {
		return &storage.UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (d *Driver) Close() error {
	return d.db.Close()
}
