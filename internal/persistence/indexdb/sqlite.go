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

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over the event stream. The
// JSONL logs remain the source of truth; writes are queued and dropped when
// the writer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
	written    atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqFlush
)

type req struct {
	kind  reqKind
	event protocol.Event
	done  chan struct{}
}

// Delivery is one settled target.
type Delivery struct {
	Session  string
	TargetID string
	Tick     uint64
	Forced   bool
	Pos      [3]float64
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropEventTotal uint64
	WrittenTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, 16384),
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
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			scene TEXT NOT NULL,
			targets INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			type TEXT NOT NULL,
			target_id TEXT,
			remaining INTEGER NOT NULL,
			forced INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_tick ON events(type, tick);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			session TEXT NOT NULL,
			target_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			forced INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			PRIMARY KEY (session, target_id)
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

// StartSession records a session row together with the tuning it runs
// with (canonical JSON plus digest).
func (s *SQLiteIndex) StartSession(ctx context.Context, id, scene string, targets int, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions(id,scene,targets,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?)`,
		id, scene, targets, hex.EncodeToString(sum[:]), string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteEvent implements protocol.EventSink. It never blocks.
func (s *SQLiteIndex) WriteEvent(e protocol.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvents.Add(1)
	}
}

// Flush waits until every queued write is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
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

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropEventTotal: s.dropEvents.Load(),
		WrittenTotal:   s.written.Load(),
	}
}

// Deliveries lists a session's settled targets in delivery order.
func (s *SQLiteIndex) Deliveries(ctx context.Context, session string) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session,target_id,tick,forced,x,y,z FROM deliveries WHERE session=? ORDER BY tick, target_id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var tick int64
		var forced int
		if err := rows.Scan(&d.Session, &d.TargetID, &tick, &forced, &d.Pos[0], &d.Pos[1], &d.Pos[2]); err != nil {
			return nil, err
		}
		d.Tick = uint64(tick)
		d.Forced = forced != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountEvents counts a session's events of the given type.
func (s *SQLiteIndex) CountEvents(ctx context.Context, session, typ string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session=? AND type=?`, session, typ).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(session,seq,tick,type,target_id,remaining,forced,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertDelivery, _ := s.db.Prepare(`INSERT OR REPLACE INTO deliveries(session,target_id,tick,forced,x,y,z) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertDelivery != nil {
			_ = insertDelivery.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second

		seq = map[string]int64{}
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

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		e := r.event
		n := seq[e.Session]
		seq[e.Session] = n + 1

		raw, _ := json.Marshal(e)
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(
				e.Session, n, int64(e.Tick), e.Type, e.TargetID, e.Remaining, boolInt(e.Forced), string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if e.Type == protocol.EventSettled && insertDelivery != nil {
			var p [3]float64
			if e.Pos != nil {
				p = *e.Pos
			}
			if _, err := tx.Stmt(insertDelivery).Exec(
				e.Session, e.TargetID, int64(e.Tick), boolInt(e.Forced), p[0], p[1], p[2],
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		s.written.Add(1)
		flushIfNeeded()
	}

	commit()
}
