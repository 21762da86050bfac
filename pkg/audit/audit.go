// Package audit persists recovery runs and their diagnosis trails in a
// SQLite database, one row per run and one per finding, so an
// examination's chain of reasoning survives the session that produced it.
package audit

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hansbonini/fluxtools/pkg/common"
	"github.com/hansbonini/fluxtools/pkg/flux"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  TEXT NOT NULL,
	source      TEXT NOT NULL,
	cylinder    INTEGER NOT NULL,
	head        INTEGER NOT NULL,
	encoding    TEXT NOT NULL,
	revolutions INTEGER NOT NULL,
	sectors     INTEGER NOT NULL,
	verified    INTEGER NOT NULL,
	success     REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     INTEGER NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	phase      TEXT NOT NULL,
	finding    TEXT NOT NULL,
	confidence REAL NOT NULL,
	preserved  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_run ON entries(run_id, seq);
`

// DB wraps the audit database connection.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) an audit database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToOpenAuditDB, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, common.FormatError(common.ErrFailedToOpenAuditDB, err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordRun stores one recovery result with its full diagnosis trail and
// returns the run id.
func (db *DB) RecordRun(source string, res *flux.RecoveryResult) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
	}
	defer tx.Rollback()

	r, err := tx.Exec(
		`INSERT INTO runs (started_at, source, cylinder, head, encoding, revolutions, sectors, verified, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), source,
		res.Cylinder, res.Head, res.Encoding.String(), res.Revolutions,
		res.Stats.SectorsFound, res.Stats.SectorsCRCOK, res.Stats.SuccessRate,
	)
	if err != nil {
		return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
	}
	runID, err := r.LastInsertId()
	if err != nil {
		return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO entries (run_id, seq, phase, finding, confidence, preserved)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
	}
	defer stmt.Close()

	for seq, entry := range res.Diagnosis {
		preserved := 0
		if entry.RawEvidencePreserved {
			preserved = 1
		}
		if _, err := stmt.Exec(runID, seq, entry.Phase, entry.Finding, entry.Confidence, preserved); err != nil {
			return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, common.FormatError(common.ErrFailedToRecordAudit, err)
	}
	return runID, nil
}

// Entries returns the diagnosis trail of a recorded run in order.
func (db *DB) Entries(runID int64) ([]flux.DiagnosisEntry, error) {
	rows, err := db.conn.Query(
		`SELECT phase, finding, confidence, preserved FROM entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, common.FormatError(common.ErrFailedToRecordAudit, err)
	}
	defer rows.Close()

	var out []flux.DiagnosisEntry
	for rows.Next() {
		var e flux.DiagnosisEntry
		var preserved int
		if err := rows.Scan(&e.Phase, &e.Finding, &e.Confidence, &preserved); err != nil {
			return nil, common.FormatError(common.ErrFailedToRecordAudit, err)
		}
		e.RawEvidencePreserved = preserved != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunCount returns the number of recorded runs.
func (db *DB) RunCount() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}
