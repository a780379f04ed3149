package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
)

// Reader opens an index written by SQLiteIndex for offline queries.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type OutcomeQuery struct {
	Session  string
	Building host.BuildingID
	Statuses []matchlog.Status
	FromTick uint64
	ToTick   uint64
	Limit    int
}

// QueryOutcomes returns matching outcomes newest first.
func (r *Reader) QueryOutcomes(ctx context.Context, q OutcomeQuery) ([]matchlog.Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Session != "" {
		where = append(where, "session=?")
		args = append(args, q.Session)
	}
	if q.Building != 0 {
		where = append(where, "(in_building=? OR out_building=?)")
		args = append(args, int64(q.Building), int64(q.Building))
	}
	if len(q.Statuses) > 0 {
		ph := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			ph[i] = "?"
			args = append(args, s.String())
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if q.FromTick > 0 {
		where = append(where, "tick>=?")
		args = append(args, int64(q.FromTick))
	}
	if q.ToTick > 0 {
		where = append(where, "tick<=?")
		args = append(args, int64(q.ToTick))
	}
	limit := q.Limit
	if limit <= 0 || limit > 10000 {
		limit = 200
	}

	stmt := "SELECT raw_json FROM outcomes"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY tick DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []matchlog.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e matchlog.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("outcome row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatusCounts aggregates outcomes per status for one session (all
// sessions when empty).
func (r *Reader) StatusCounts(ctx context.Context, session string) (map[matchlog.Status]int, error) {
	stmt := "SELECT status, COUNT(*) FROM outcomes"
	var args []any
	if session != "" {
		stmt += " WHERE session=?"
		args = append(args, session)
	}
	stmt += " GROUP BY status"
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[matchlog.Status]int{}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		s, err := matchlog.ParseStatus(name)
		if err != nil {
			continue
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *Reader) ListSaves(ctx context.Context, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT session,tick,path,version,restrictions,warehouses,vehicles,saved_at FROM saves ORDER BY saved_at DESC, tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveRow
	for rows.Next() {
		var (
			s    SaveRow
			tick int64
		)
		if err := rows.Scan(&s.Session, &tick, &s.Path, &s.Version, &s.Restrictions, &s.Warehouses, &s.Vehicles, &s.SavedAt); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Reader) ListFailures(ctx context.Context, building host.BuildingID, limit int) ([]FailureRow, error) {
	if limit <= 0 {
		limit = 200
	}
	stmt := `SELECT session,tick,vehicle,source,target,category FROM path_failures`
	var args []any
	if building != 0 {
		stmt += ` WHERE source=? OR target=?`
		args = append(args, int64(building), int64(building))
	}
	stmt += ` ORDER BY tick DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailureRow
	for rows.Next() {
		var (
			f                             FailureRow
			tick, vehicle, source, target int64
			cat                           string
		)
		if err := rows.Scan(&f.Session, &tick, &vehicle, &source, &target, &cat); err != nil {
			return nil, err
		}
		f.Tick = uint64(tick)
		f.Vehicle = host.VehicleID(vehicle)
		f.Source = host.BuildingID(source)
		f.Target = host.BuildingID(target)
		f.Category, _ = host.ParseCategory(cat)
		out = append(out, f)
	}
	return out, rows.Err()
}
