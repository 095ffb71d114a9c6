package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/particulate/internal/monitoring"
	"github.com/banshee-data/particulate/internal/readings"
)

var logf = monitoring.Tagged("db")

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database and applies pragmas without touching the schema.
// The migrate subcommand uses it so it can inspect any state.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one connection also keeps the pragmas
	// below in force for every statement.
	sqlDB.SetMaxOpenConns(1)

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// RecordReading stores one poll cycle result. The no-reading marker is stored
// with a NULL value.
func (db *DB) RecordReading(r readings.Reading) error {
	var value sql.NullFloat64
	if r.Valid() {
		value = sql.NullFloat64{Float64: r.Value, Valid: true}
	}
	_, err := db.Exec(
		`INSERT INTO readings (sensor, value, outcome, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		r.Sensor, value, r.Outcome, r.Detail, r.At.UnixNano(),
	)
	return err
}

// Publish makes DB a readings.Sink. Storage errors are logged, not returned,
// so a full disk never stops the poll cycle.
func (db *DB) Publish(r readings.Reading) {
	if err := db.RecordReading(r); err != nil {
		logf("failed to record reading for %s: %v", r.Sensor, err)
	}
}

// Query selects stored readings. Zero values mean no constraint, except
// Limit which defaults to DefaultQueryLimit.
type Query struct {
	Sensor string
	Since  time.Time
	Until  time.Time
	Limit  int
}

const (
	DefaultQueryLimit = 500
	MaxQueryLimit     = 10000
)

// Readings returns the newest readings matching q, oldest first.
func (db *DB) Readings(q Query) ([]readings.Reading, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if q.Sensor != "" {
		where = append(where, "sensor = ?")
		args = append(args, q.Sensor)
	}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, q.Until.UnixNano())
	}

	stmt := `SELECT sensor, value, outcome, detail, recorded_at FROM readings`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY recorded_at DESC, reading_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []readings.Reading
	for rows.Next() {
		var (
			r     readings.Reading
			value sql.NullFloat64
			at    int64
		)
		if err := rows.Scan(&r.Sensor, &value, &r.Outcome, &r.Detail, &at); err != nil {
			return nil, err
		}
		r.Value = math.NaN()
		if value.Valid {
			r.Value = value.Float64
		}
		r.At = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Sensors lists every sensor name that has stored readings.
func (db *DB) Sensors() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT sensor FROM readings ORDER BY sensor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PruneBefore deletes readings older than t and returns how many went.
func (db *DB) PruneBefore(t time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM readings WHERE recorded_at < ?`, t.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AttachAdminRoutes mounts a SQL console and a backup download on /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Readings DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("particulate-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				logf("Failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			logf("Failed to stream backup: %v", err)
		}
	}))
	return nil
}
