package sqliteutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPreflightHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec("create table t (id integer)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	rep, err := Preflight(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if !rep.Healthy || rep.MovedTo != "" || rep.Missing {
		t.Fatalf("expected healthy preflight, got %+v", rep)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db to remain, stat failed: %v", err)
	}
}

func TestPreflightMissingFileIsHealthy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "new.db")
	rep, err := Preflight(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if !rep.Healthy || !rep.Missing {
		t.Fatalf("expected missing-but-healthy report, got %+v", rep)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected parent dir created: %v", err)
	}
}

func TestPreflightQuarantinesCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	if err := os.WriteFile(path, []byte("not a sqlite database, just some text padding it out"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	rep, err := Preflight(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("expected quarantine, got error: %v", err)
	}
	if rep.Healthy || rep.CheckErr == nil {
		t.Fatalf("expected failed check, got %+v", rep)
	}
	if !strings.Contains(rep.MovedTo, ".bad-") {
		t.Fatalf("quarantine path not suffixed as expected: %q", rep.MovedTo)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original db to be renamed, stat err=%v", err)
	}
	if _, err := os.Stat(rep.MovedTo); err != nil {
		t.Fatalf("expected quarantined file: %v", err)
	}
}

func TestQuarantineMovesSidecars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	moved, err := Quarantine(path)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	suffix := strings.TrimPrefix(moved, path)
	for _, p := range []string{path + "-wal", path + "-shm"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s moved, stat err=%v", p, err)
		}
		if _, err := os.Stat(p + suffix); err != nil {
			t.Fatalf("expected %s%s: %v", p, suffix, err)
		}
	}
	if _, err := os.Stat(path + "-journal" + suffix); !os.IsNotExist(err) {
		t.Fatal("absent sidecar must not be created")
	}
}

func TestPreflightRejectsEmptyPath(t *testing.T) {
	if _, err := Preflight(context.Background(), " ", time.Second); err == nil {
		t.Fatal("expected error for empty path")
	}
}
