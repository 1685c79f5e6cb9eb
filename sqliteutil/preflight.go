// Package sqliteutil checks a SQLite file before the archive opens it, so a
// damaged database left behind by a crash or a full disk cannot stall
// startup. A file that fails the check is moved aside with its sidecars and
// the caller starts on a fresh one.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPreflightTimeout = 2 * time.Second

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// Report describes one preflight run.
type Report struct {
	Healthy  bool   // checkpoint and quick_check both passed
	Missing  bool   // no database existed yet
	MovedTo  string // quarantine path of the main file, when moved
	Elapsed  time.Duration
	CheckErr error
	Detail   string // first non-ok quick_check row
}

// Preflight runs a bounded WAL checkpoint and quick_check against path. On a
// failed check the database and its sidecars are renamed with a ".bad-<ts>"
// suffix and the report says where. A timeout is returned as an error since
// a locked file is not proof of damage.
func Preflight(ctx context.Context, path string, timeout time.Duration) (Report, error) {
	var rep Report
	if strings.TrimSpace(path) == "" {
		return rep, errors.New("preflight: empty path")
	}
	if timeout <= 0 {
		timeout = defaultPreflightTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rep, fmt.Errorf("preflight: ensure dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		rep.Healthy = true
		rep.Missing = true
		return rep, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	detail, checkErr := check(ctx, path, timeout)
	rep.Elapsed = time.Since(start)
	rep.CheckErr = checkErr
	rep.Detail = detail
	if checkErr == nil {
		rep.Healthy = true
		return rep, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rep, fmt.Errorf("preflight: %s timed out after %s", path, timeout)
	}

	moved, err := Quarantine(path)
	if err != nil {
		return rep, fmt.Errorf("preflight: quarantine %s: %w (check: %v)", path, err, checkErr)
	}
	rep.MovedTo = moved
	log.Printf("sqlite preflight: %s failed (%v); moved to %s after %s", path, checkErr, moved, rep.Elapsed)
	return rep, nil
}

func check(ctx context.Context, path string, timeout time.Duration) (string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return "", err
	}
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return "", fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return "", fmt.Errorf("quick_check: %w", err)
		}
		if strings.TrimSpace(status) != "ok" {
			return status, fmt.Errorf("quick_check reported %q", status)
		}
	}
	return "", rows.Err()
}

// Quarantine renames path and any sidecars that exist, returning the new
// name of the main file.
func Quarantine(path string) (string, error) {
	suffix := ".bad-" + time.Now().UTC().Format("20060102T150405Z")
	moved := path + suffix
	if err := os.Rename(path, moved); err != nil {
		return "", err
	}
	for _, s := range sidecarSuffixes {
		side := path + s
		if _, err := os.Stat(side); err != nil {
			continue
		}
		if err := os.Rename(side, side+suffix); err != nil {
			return moved, err
		}
	}
	return moved, nil
}
