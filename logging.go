package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rttydec/config"
)

const (
	logTimestampLayout   = "2006/01/02 15:04:05"
	logFileDateLayout    = "2006-01-02"
	maxLogBufferBytes    = 16 * 1024
	defaultLogRetention  = 7
	logErrorReportPeriod = time.Minute
)

type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// writerSink prints log lines to a terminal or the dashboard's system pane.
type writerSink struct {
	w             io.Writer
	withTimestamp bool
}

func (s *writerSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.withTimestamp {
		line = formatLogTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error { return nil }

// rolloverHook runs on its own goroutine after the file for a new UTC day
// is opened, so it may log; prevDay is the day that just ended.
type rolloverHook func(prevDay time.Time)

// dailyFileSink appends to one file per UTC day and prunes old days.
type dailyFileSink struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	day           string
	file          *os.File
	lastErrorAt   time.Time
	onRollover    rolloverHook
}

// Purpose: Prepare the log directory and prune expired files once at startup.
// Key aspects: The first file is opened lazily by the first line.
// Upstream: setupLogging.
// Downstream: pruneLogs.
func newDailyFileSink(dir string, retentionDays int) (*dailyFileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = defaultLogRetention
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	if err := pruneLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: cleanup failed for %s: %v\n", dir, err)
	}
	return &dailyFileSink{dir: dir, retentionDays: retentionDays}, nil
}

// Purpose: Append a timestamped line, switching files at UTC midnight.
// Key aspects: File errors go to stderr at most once a minute.
// Upstream: logFanout.Write, logFanout.WriteFileOnlyLine.
// Downstream: openDayLocked.
func (s *dailyFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	now = now.UTC()
	day := now.Format(logFileDateLayout)

	var hook rolloverHook
	var prevDay time.Time

	s.mu.Lock()
	if s.file == nil || s.day != day {
		if s.day != "" && s.day != day {
			if parsed, err := time.ParseInLocation(logFileDateLayout, s.day, time.UTC); err == nil {
				prevDay = parsed
				hook = s.onRollover
			}
		}
		s.openDayLocked(day, now)
	}
	if s.file != nil {
		if _, err := s.file.WriteString(formatLogTimestamp(now) + " " + line + "\n"); err != nil {
			s.reportErrorLocked(now, fmt.Errorf("write failed: %w", err))
		}
	}
	s.mu.Unlock()

	if hook != nil {
		go hook(prevDay)
	}
}

func (s *dailyFileSink) openDayLocked(day string, now time.Time) {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.reportErrorLocked(now, fmt.Errorf("failed to create log directory %q: %w", s.dir, err))
		return
	}
	path := filepath.Join(s.dir, logFileName(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.reportErrorLocked(now, fmt.Errorf("open failed for %s: %w", path, err))
		return
	}
	s.file = file
	s.day = day
	if err := pruneLogs(s.dir, now, s.retentionDays); err != nil {
		s.reportErrorLocked(now, fmt.Errorf("cleanup failed: %w", err))
	}
}

func (s *dailyFileSink) reportErrorLocked(now time.Time, err error) {
	if !s.lastErrorAt.IsZero() && now.Sub(s.lastErrorAt) < logErrorReportPeriod {
		return
	}
	s.lastErrorAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (s *dailyFileSink) setRolloverHook(hook rolloverHook) {
	s.mu.Lock()
	s.onRollover = hook
	s.mu.Unlock()
}

func (s *dailyFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.day = ""
	return err
}

// logFanout is installed with log.SetOutput. It splits the stream into lines
// and hands each to the console (or dashboard) sink and the file sink.
type logFanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
}

// Purpose: Wire logging from config without blocking startup.
// Key aspects: Returns a working console fanout even when the file sink fails.
// Upstream: main.
// Downstream: newDailyFileSink.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logFanout, error) {
	fanout := &logFanout{console: &writerSink{w: console, withTimestamp: true}}
	if !cfg.Enabled {
		return fanout, nil
	}
	fileSink, err := newDailyFileSink(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return fanout, err
	}
	fanout.file = fileSink
	return fanout, nil
}

// SetConsoleSink swaps the console side, e.g. to the dashboard system pane.
// A nil writer silences the console.
func (f *logFanout) SetConsoleSink(w io.Writer, withTimestamp bool) {
	var sink lineSink
	if w != nil {
		sink = &writerSink{w: w, withTimestamp: withTimestamp}
	}
	f.mu.Lock()
	f.console = sink
	f.mu.Unlock()
}

// OnRollover registers a callback for the UTC day change. It is a no-op
// without file logging.
func (f *logFanout) OnRollover(hook rolloverHook) {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if daily, ok := file.(*dailyFileSink); ok {
		daily.setRolloverHook(hook)
	}
}

func (f *logFanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	data := f.buf
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	if len(data) > maxLogBufferBytes {
		if partial := string(bytes.TrimRight(data, "\r")); partial != "" {
			lines = append(lines, partial)
		}
		data = data[:0]
	}
	f.buf = append(f.buf[:0], data...)
	console, file := f.console, f.file
	f.mu.Unlock()

	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnlyLine records a line in the log file without echoing it to the
// console; used for periodic stats while the dashboard shows them live.
func (f *logFanout) WriteFileOnlyLine(line string, now time.Time) {
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, now)
	}
}

func (f *logFanout) Close() error {
	f.mu.Lock()
	console, file := f.console, f.file
	f.mu.Unlock()
	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

func logFileName(now time.Time) string {
	return "rttydec-" + now.UTC().Format(logFileDateLayout) + ".log"
}

func parseLogFileDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "rttydec-") || filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	base := strings.TrimSuffix(strings.TrimPrefix(name, "rttydec-"), ".log")
	parsed, err := time.ParseInLocation(logFileDateLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// pruneLogs removes daily files older than retentionDays, counting today.
// Files that do not match the daily naming scheme are left alone.
func pruneLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		day, ok := parseLogFileDate(entry.Name())
		if ok && day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
