package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rttydec/config"
)

func TestLogFileName(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if got := logFileName(when); got != "rttydec-2026-01-22.log" {
		t.Fatalf("expected rttydec-2026-01-22.log, got %q", got)
	}
	parsed, ok := parseLogFileDate("rttydec-2026-01-22.log")
	if !ok || !parsed.Equal(time.Date(2026, time.January, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parse result %s (%v)", parsed, ok)
	}
	if _, ok := parseLogFileDate("notes.txt"); ok {
		t.Fatalf("expected non-log file to be rejected")
	}
	if _, ok := parseLogFileDate("other-2026-01-22.log"); ok {
		t.Fatalf("expected foreign log file to be rejected")
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rttydec-2026-01-20.log", "rttydec-2026-01-21.log", "rttydec-2026-01-22.log", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := pruneLogs(dir, now, 2); err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "rttydec-2026-01-20.log")); !os.IsNotExist(err) {
		t.Fatalf("expected oldest log removed, stat err=%v", err)
	}
	for _, name := range []string{"rttydec-2026-01-21.log", "rttydec-2026-01-22.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestDailyFileSinkRollsOverAtMidnight(t *testing.T) {
	dir := t.TempDir()
	sink, err := newDailyFileSink(dir, 30)
	if err != nil {
		t.Fatalf("newDailyFileSink: %v", err)
	}
	defer sink.Close()

	rolled := make(chan time.Time, 1)
	sink.setRolloverHook(func(prevDay time.Time) { rolled <- prevDay })

	day1 := time.Date(2026, time.January, 22, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	sink.WriteLine("first", day1)
	sink.WriteLine("second", day2)

	select {
	case prev := <-rolled:
		if !prev.Equal(time.Date(2026, time.January, 22, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("expected rollover for 2026-01-22, got %s", prev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("rollover hook did not run")
	}
	first, err := os.ReadFile(filepath.Join(dir, "rttydec-2026-01-22.log"))
	if err != nil || !strings.Contains(string(first), "first") {
		t.Fatalf("expected first day file, got %q (%v)", first, err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "rttydec-2026-01-23.log"))
	if err != nil || !strings.Contains(string(second), "2026/01/23 00:01:00 second") {
		t.Fatalf("expected second day file, got %q (%v)", second, err)
	}
}

func TestRolloverHookLoggingDoesNotDeadlock(t *testing.T) {
	dir := t.TempDir()
	fanout, err := setupLogging(config.LoggingConfig{Enabled: true, Dir: dir, RetentionDays: 2}, nil)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer fanout.Close()
	logger := log.New(fanout, "", 0)
	sink := fanout.file.(*dailyFileSink)

	now := time.Now().UTC()
	sink.WriteLine("prime", now)
	// Force the next write to roll over without waiting for midnight.
	sink.mu.Lock()
	sink.day = now.Add(-24 * time.Hour).Format(logFileDateLayout)
	sink.mu.Unlock()

	var once sync.Once
	hookDone := make(chan struct{})
	fanout.OnRollover(func(prevDay time.Time) {
		logger.Printf("summary for %s", prevDay.Format(logFileDateLayout))
		once.Do(func() { close(hookDone) })
	})

	done := make(chan struct{})
	go func() {
		logger.Print("trigger rollover")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("logger.Print deadlocked during rollover hook logging")
	}
	select {
	case <-hookDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("rollover hook did not run")
	}
}

func TestLogFanoutSplitsLinesAndBuffersPartials(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{}, &console)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	fanout.SetConsoleSink(&console, false)
	_, _ = fanout.Write([]byte("one\r\ntw"))
	if console.String() != "one\n" {
		t.Fatalf("expected only the complete line, got %q", console.String())
	}
	_, _ = fanout.Write([]byte("o\n"))
	if console.String() != "one\ntwo\n" {
		t.Fatalf("expected partial line completed, got %q", console.String())
	}
	fanout.WriteFileOnlyLine("file only", time.Now())
	if strings.Contains(console.String(), "file only") {
		t.Fatalf("file-only line leaked to console")
	}
}

func TestLogFanoutFlushesOversizedPartial(t *testing.T) {
	var console bytes.Buffer
	fanout := &logFanout{console: &writerSink{w: &console}}
	_, _ = fanout.Write(bytes.Repeat([]byte("x"), maxLogBufferBytes+1))
	if console.Len() != maxLogBufferBytes+2 {
		t.Fatalf("expected oversized partial emitted with newline, got %d bytes", console.Len())
	}
	if len(fanout.buf) != 0 {
		t.Fatalf("expected buffer reset, got %d bytes", len(fanout.buf))
	}
}
