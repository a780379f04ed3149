package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable copy of what the controller logs.
// Writes are queued to a single writer goroutine and dropped when it falls
// behind; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOutcome atomic.Uint64
	dropFailure atomic.Uint64
	dropSave    atomic.Uint64
}

type reqKind int

const (
	reqOutcome reqKind = iota + 1
	reqFailure
	reqSave
	reqSession
	reqSync
)

type req struct {
	kind reqKind

	session string
	outcome matchlog.Entry
	failure FailureRow
	save    SaveRow
	done    chan struct{}
}

type FailureRow struct {
	Session  string
	Tick     uint64
	Vehicle  host.VehicleID
	Source   host.BuildingID
	Target   host.BuildingID
	Category host.Category
}

type SaveRow struct {
	Session      string
	Tick         uint64
	Path         string
	Version      int32
	Restrictions int
	Warehouses   int
	Vehicles     int
	SavedAt      string
}

type QueueStats struct {
	QueueDepth    int
	QueueCapacity int

	DropOutcomeTotal uint64
	DropFailureTotal uint64
	DropSaveTotal    uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			in_building INTEGER NOT NULL,
			out_building INTEGER NOT NULL,
			in_priority INTEGER NOT NULL,
			out_priority INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_in_tick ON outcomes(in_building, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_out_tick ON outcomes(out_building, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_status_tick ON outcomes(status, tick);`,
		`CREATE TABLE IF NOT EXISTS path_failures (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			vehicle INTEGER NOT NULL,
			source INTEGER NOT NULL,
			target INTEGER NOT NULL,
			category TEXT NOT NULL,
			PRIMARY KEY (session, tick, vehicle)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_path_failures_source ON path_failures(source, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_path_failures_target ON path_failures(target, tick);`,
		`CREATE TABLE IF NOT EXISTS saves (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			version INTEGER NOT NULL,
			restrictions INTEGER NOT NULL,
			warehouses INTEGER NOT NULL,
			vehicles INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (session, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropOutcomeTotal: s.dropOutcome.Load(),
		DropFailureTotal: s.dropFailure.Load(),
		DropSaveTotal:    s.dropSave.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		if drops != nil {
			drops.Add(1)
		}
	}
}

func (s *SQLiteIndex) WriteOutcome(session string, e matchlog.Entry) error {
	s.enqueue(req{kind: reqOutcome, session: session, outcome: e}, &s.dropOutcome)
	return nil
}

func (s *SQLiteIndex) RecordFailure(r FailureRow) {
	s.enqueue(req{kind: reqFailure, failure: r}, &s.dropFailure)
}

func (s *SQLiteIndex) RecordSave(r SaveRow) {
	if r.SavedAt == "" {
		r.SavedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.enqueue(req{kind: reqSave, save: r}, &s.dropSave)
}

func (s *SQLiteIndex) RecordSession(id string) {
	s.enqueue(req{kind: reqSession, session: id}, nil)
}

// Sync blocks until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertOutcome, _ := s.db.Prepare(`INSERT OR REPLACE INTO outcomes(session,tick,seq,category,status,in_building,out_building,in_priority,out_priority,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT OR REPLACE INTO path_failures(session,tick,vehicle,source,target,category) VALUES(?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT OR REPLACE INTO saves(session,tick,path,version,restrictions,warehouses,vehicles,saved_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR IGNORE INTO sessions(session,started_at) VALUES(?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertOutcome, insertFailure, insertSave, insertSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastTick uint64
		seq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOutcome:
			e := r.outcome
			if e.Tick != lastTick {
				lastTick = e.Tick
				seq = 0
			}
			raw, _ := json.Marshal(e)
			exec(insertOutcome,
				r.session,
				int64(e.Tick),
				seq,
				e.Category.String(),
				e.Status.String(),
				int64(e.InBuilding),
				int64(e.OutBuilding),
				e.InPriority,
				e.OutPriority,
				string(raw),
			)
			seq++

		case reqFailure:
			f := r.failure
			exec(insertFailure,
				f.Session,
				int64(f.Tick),
				int64(f.Vehicle),
				int64(f.Source),
				int64(f.Target),
				f.Category.String(),
			)

		case reqSave:
			sv := r.save
			exec(insertSave,
				sv.Session,
				int64(sv.Tick),
				sv.Path,
				sv.Version,
				sv.Restrictions,
				sv.Warehouses,
				sv.Vehicles,
				sv.SavedAt,
			)

		case reqSession:
			exec(insertSession, r.session, time.Now().UTC().Format(time.RFC3339Nano))
		}
		flushIfNeeded()
	}

	commit()
}
