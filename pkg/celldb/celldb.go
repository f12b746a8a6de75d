// Package celldb keeps a persistent log of every tower seen
package celldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/satstat/satstat/pkg/cell"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/radio"
)

// DB stores one row per tower identity.
//
// Identity columns are family specific: GSM uses mcc, mnc, lac, cid, psc;
// LTE uses mcc, mnc, tac, ci, pci; CDMA stores sid, nid, bsid in mnc, area
// and cell with mcc and code set to -1.
type DB struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// Record is one stored tower
type Record struct {
	Family       string    `json:"family"`
	Text         string    `json:"text,omitempty"`
	AltText      string    `json:"alt_text,omitempty"`
	MCC          int       `json:"mcc"`
	MNC          int       `json:"mnc"`
	Area         int       `json:"area"`
	Cell         int       `json:"cell"`
	Code         int       `json:"code"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	BestDbm      *int      `json:"best_dbm,omitempty"`
	Sightings    int       `json:"sightings"`
	ServingCount int       `json:"serving_count"`
}

// Open opens or creates the database at path
func Open(path string, logger *logx.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = logx.Nop()
	}
	c := &DB{db: db, path: path, logger: logger.With("component", "celldb")}
	if err := c.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

func (c *DB) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cells (
		family TEXT NOT NULL,
		text_id TEXT NOT NULL DEFAULT '',
		alt_id TEXT NOT NULL DEFAULT '',
		mcc INTEGER NOT NULL,
		mnc INTEGER NOT NULL,
		area INTEGER NOT NULL,
		cell INTEGER NOT NULL,
		code INTEGER NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		best_dbm INTEGER,
		sightings INTEGER NOT NULL DEFAULT 0,
		serving_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (family, mcc, mnc, area, cell, code)
	);

	CREATE INDEX IF NOT EXISTS idx_cells_last_seen ON cells(last_seen);
	`

	_, err := c.db.Exec(schema)
	return err
}

// Close closes the database
func (c *DB) Close() error {
	return c.db.Close()
}

const upsertQuery = `
INSERT INTO cells (
	family, text_id, alt_id, mcc, mnc, area, cell, code,
	first_seen, last_seen, best_dbm, sightings, serving_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (family, mcc, mnc, area, cell, code) DO UPDATE SET
	text_id = excluded.text_id,
	alt_id = excluded.alt_id,
	last_seen = excluded.last_seen,
	best_dbm = CASE
		WHEN excluded.best_dbm IS NULL THEN cells.best_dbm
		WHEN cells.best_dbm IS NULL OR excluded.best_dbm > cells.best_dbm THEN excluded.best_dbm
		ELSE cells.best_dbm
	END,
	sightings = cells.sightings + 1,
	serving_count = cells.serving_count + excluded.serving_count
`

// Record stores every tower of a snapshot in one transaction
func (c *DB) Record(ctx context.Context, snap radio.Snapshot) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	seen := snap.Time.UnixMilli()
	for _, f := range cell.Families {
		towers := snap.Cells(f)
		for i := range towers {
			t := &towers[i]
			ids := identity(t)
			var best interface{}
			if t.HasDbm() {
				best = t.Dbm()
			}
			serving := 0
			if t.IsServing() {
				serving = 1
			}
			if _, err := stmt.ExecContext(ctx,
				f.String(), t.Text(), t.AltText(), ids[0], ids[1], ids[2], ids[3], ids[4],
				seen, seen, best, serving,
			); err != nil {
				return fmt.Errorf("failed to store %s tower: %w", f, err)
			}
		}
	}

	return tx.Commit()
}

// OnCycle records the snapshot, logging failures
func (c *DB) OnCycle(snap radio.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Record(ctx, snap); err != nil {
		c.logger.Warn("failed to record cycle", "error", err)
	}
}

func identity(t *cell.Tower) [5]int {
	switch t.Family() {
	case cell.FamilyGSM:
		id := t.GSM()
		return [5]int{id.MCC, id.MNC, id.LAC, id.CID, id.PSC}
	case cell.FamilyCDMA:
		id := t.CDMA()
		return [5]int{cell.Unknown, id.SID, id.NID, id.BSID, cell.Unknown}
	default:
		id := t.LTE()
		return [5]int{id.MCC, id.MNC, id.TAC, id.CI, id.PCI}
	}
}

// Recent returns the most recently seen towers, newest first
func (c *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT family, text_id, alt_id, mcc, mnc, area, cell, code,
		   first_seen, last_seen, best_dbm, sightings, serving_count
	FROM cells
	ORDER BY last_seen DESC, serving_count DESC, family, mcc, mnc, area, cell, code
	LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r           Record
			first, last int64
			best        sql.NullInt64
		)
		if err := rows.Scan(
			&r.Family, &r.Text, &r.AltText, &r.MCC, &r.MNC, &r.Area, &r.Cell, &r.Code,
			&first, &last, &best, &r.Sightings, &r.ServingCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		r.FirstSeen = time.UnixMilli(first)
		r.LastSeen = time.UnixMilli(last)
		if best.Valid {
			dbm := int(best.Int64)
			r.BestDbm = &dbm
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of stored towers
func (c *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cells").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cells: %w", err)
	}
	return n, nil
}

// Prune deletes towers not seen since before
func (c *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM cells WHERE last_seen < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cells: %w", err)
	}
	return res.RowsAffected()
}
