// Package archive stores decoded lines in SQLite so traffic can be searched
// after it scrolls off the console.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rttydec/config"
	"rttydec/sink"
	"rttydec/sqliteutil"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

const (
	defaultQueueSize       = 1000
	defaultBatchSize       = 50
	defaultBatchInterval   = time.Second
	defaultCleanupInterval = time.Hour
	// Fingerprints older than the window are pruned once the table grows past
	// this many entries.
	seenPruneThreshold = 4096
)

// Entry is one archived line.
type Entry struct {
	ID          int64
	Time        time.Time
	Station     string
	Text        string
	Fingerprint uint64
}

// Writer persists decoded lines to SQLite asynchronously. It is a decoder
// sink: characters are assembled into lines and completed lines are queued.
// The hot path never blocks on the database; a full queue drops the line.
// Repeats of the same text inside the dedupe window are skipped, which keeps
// looping broadcasts such as test patterns from flooding the table.
type Writer struct {
	*sink.LineAssembler

	cfg           config.ArchiveConfig
	station       string
	db            *sql.DB
	queue         chan Entry
	stop          chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	started       atomic.Bool
	batchSize     int
	batchInterval time.Duration
	window        time.Duration

	seenMu sync.Mutex
	seen   map[uint64]time.Time

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
	dupes   atomic.Uint64
}

// NewWriter preflights and opens the database and returns a writer; call
// Start to begin processing.
func NewWriter(ctx context.Context, cfg config.ArchiveConfig, station string) (*Writer, error) {
	rep, err := sqliteutil.Preflight(ctx, cfg.DBPath, time.Duration(cfg.PreflightTimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if rep.MovedTo != "" {
		log.Printf("archive: damaged database moved to %s; starting fresh", rep.MovedTo)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=` + fmt.Sprintf("%d", cfg.BusyTimeoutMS)); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: pragmas: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	w := &Writer{
		cfg:           cfg,
		station:       station,
		db:            db,
		queue:         make(chan Entry, positiveOr(cfg.QueueSize, defaultQueueSize)),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     positiveOr(cfg.BatchSize, defaultBatchSize),
		batchInterval: time.Duration(cfg.BatchIntervalMS) * time.Millisecond,
		window:        time.Duration(cfg.DedupeWindowSeconds) * time.Second,
		seen:          make(map[uint64]time.Time),
	}
	if w.batchInterval <= 0 {
		w.batchInterval = defaultBatchInterval
	}
	w.LineAssembler = sink.NewLineAssembler(w.enqueueLine)
	return w, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Start launches the insert and cleanup loops.
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.insertLoop()
	go w.cleanupLoop()
}

// Stop drains the queue, writes the final batch, and closes the database.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		if err := w.db.Close(); err != nil {
			log.Printf("archive: close: %v", err)
		}
	})
}

// Fingerprint hashes a line for duplicate suppression. Case and surrounding
// whitespace are ignored so a repeat with a stray space still matches.
func Fingerprint(station, text string) uint64 {
	return xxh3.HashString(station + "\x00" + strings.ToUpper(strings.TrimSpace(text)))
}

func (w *Writer) enqueueLine(text string, at time.Time) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	fp := Fingerprint(w.station, text)
	if w.isDuplicate(fp, at) {
		w.dupes.Add(1)
		return nil
	}
	w.Enqueue(Entry{Time: at.UTC(), Station: w.station, Text: text, Fingerprint: fp})
	return nil
}

// isDuplicate reports whether fp was seen inside the window and records at.
func (w *Writer) isDuplicate(fp uint64, at time.Time) bool {
	if w.window <= 0 {
		return false
	}
	w.seenMu.Lock()
	defer w.seenMu.Unlock()
	if last, ok := w.seen[fp]; ok && at.Sub(last) < w.window {
		return true
	}
	w.seen[fp] = at
	if len(w.seen) > seenPruneThreshold {
		for k, t := range w.seen {
			if at.Sub(t) >= w.window {
				delete(w.seen, k)
			}
		}
	}
	return false
}

// Enqueue attempts to queue an entry without blocking; drops on full queue.
func (w *Writer) Enqueue(e Entry) {
	if w == nil {
		return
	}
	select {
	case w.queue <- e:
		w.queued.Add(1)
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("archive: queue full, dropped %d line(s)", n)
		}
	}
}

func (w *Writer) insertLoop() {
	defer close(w.done)
	batch := make([]Entry, 0, w.batchSize)
	timer := time.NewTimer(w.batchInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			for {
				select {
				case e := <-w.queue:
					batch = append(batch, e)
				default:
					w.flush(batch)
					return
				}
			}
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
				timer.Reset(w.batchInterval)
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
			timer.Reset(w.batchInterval)
		}
	}
}

func (w *Writer) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := w.db.Begin()
	if err != nil {
		log.Printf("archive: begin tx: %v", err)
		return
	}
	stmt, err := tx.Prepare(`insert into lines(ts, station, text, fingerprint) values(?,?,?,?)`)
	if err != nil {
		log.Printf("archive: prepare: %v", err)
		_ = tx.Rollback()
		return
	}
	inserted := 0
	for _, e := range batch {
		if _, err := stmt.Exec(e.Time.UTC().UnixMilli(), e.Station, e.Text, int64(e.Fingerprint)); err != nil {
			log.Printf("archive: insert failed: %v", err)
			continue
		}
		inserted++
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("archive: commit: %v", err)
		return
	}
	w.written.Add(uint64(inserted))
}

func (w *Writer) cleanupLoop() {
	interval := time.Duration(w.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.cleanupOnce(time.Now().UTC())
		}
	}
}

// cleanupOnce deletes rows older than the retention period. Zero retention
// keeps everything.
func (w *Writer) cleanupOnce(now time.Time) int64 {
	if w.cfg.RetentionDays <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -w.cfg.RetentionDays).UnixMilli()
	res, err := w.db.Exec(`delete from lines where ts < ?`, cutoff)
	if err != nil {
		log.Printf("archive: cleanup: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("archive: removed %d line(s) older than %d days", n, w.cfg.RetentionDays)
	}
	return n
}

func ensureSchema(db *sql.DB) error {
	schema := `
	create table if not exists lines (
		id integer primary key autoincrement,
		ts integer not null,
		station text,
		text text not null,
		fingerprint integer
	);
	create index if not exists idx_lines_ts on lines(ts);
	create index if not exists idx_lines_fingerprint on lines(fingerprint);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

// Recent returns the most recent N lines from the archive, newest first.
func (w *Writer) Recent(limit int) ([]Entry, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("archive: writer is nil")
	}
	if limit <= 0 {
		return []Entry{}, nil
	}
	rows, err := w.db.Query(`select id, ts, station, text, fingerprint from lines order by ts desc, id desc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	results := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			ts      int64
			station sql.NullString
			fp      int64
		)
		if err := rows.Scan(&e.ID, &ts, &station, &e.Text, &fp); err != nil {
			return nil, fmt.Errorf("archive: scan recent: %w", err)
		}
		e.Time = time.UnixMilli(ts).UTC()
		e.Station = station.String
		e.Fingerprint = uint64(fp)
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate recent: %w", err)
	}
	return results, nil
}

// Counters reports lines queued, written, dropped for backpressure, and
// skipped as duplicates.
func (w *Writer) Counters() (queued, written, dropped, dupes uint64) {
	return w.queued.Load(), w.written.Load(), w.dropped.Load(), w.dupes.Load()
}
