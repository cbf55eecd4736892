package db

import (
	"os"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestLoadMigrations(t *testing.T) {
	fsys := mapFS(map[string]string{
		"001_event_log.sql":  "CREATE TABLE claim_key (id BIGSERIAL PRIMARY KEY);",
		"002_aggregates.sql": "CREATE TABLE claim_payment (claim_key_id BIGINT PRIMARY KEY);",
		"003_verify.sql":     "CREATE TABLE verification_run (id BIGSERIAL PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_event_log.sql" {
		t.Errorf("unexpected first migration: %d %s", migrations[0].Version, migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE claim_key (id BIGSERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := mapFS(map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expected := []int{1, 2, 5, 10}
	if len(migrations) != len(expected) {
		t.Fatalf("expected %d migrations, got %d", len(expected), len(migrations))
	}
	for i, v := range expected {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_IgnoresUnversionedFiles(t *testing.T) {
	fsys := mapFS(map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	})

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("unexpected migrations %+v", migrations)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := mapFS(map[string]string{
		"001_event_log.sql": "SELECT 1;",
		"01_other.sql":      "SELECT 2;",
	})
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected error for two files with version 1")
	}
}

func TestLoadMigrations_Checksum(t *testing.T) {
	a, _ := NewMigrator(nil, mapFS(map[string]string{"001_a.sql": "SELECT 1;"})).LoadMigrations()
	b, _ := NewMigrator(nil, mapFS(map[string]string{"001_a.sql": "SELECT 1;"})).LoadMigrations()
	c, _ := NewMigrator(nil, mapFS(map[string]string{"001_a.sql": "SELECT 2;"})).LoadMigrations()

	if len(a[0].Checksum) != 64 {
		t.Fatalf("expected hex sha256, got %q", a[0].Checksum)
	}
	if a[0].Checksum != b[0].Checksum {
		t.Error("same content produced different checksums")
	}
	if a[0].Checksum == c[0].Checksum {
		t.Error("different content produced the same checksum")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, EmbeddedMigrations()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) < 4 {
		t.Fatalf("expected at least 4 embedded migrations, got %d", len(migrations))
	}
	for i, mig := range migrations {
		if mig.Version != i+1 {
			t.Errorf("embedded migration %s has version %d, want %d", mig.Name, mig.Version, i+1)
		}
	}

	all := ""
	for _, mig := range migrations {
		all += mig.SQL
	}
	for _, table := range []string{
		"claim_key", "claim_event", "remittance_activity", "claim_activity_summary",
		"claim_payment", "claim_financial_timeline", "claim_status_timeline",
		"verification_rule", "verification_run", "verification_result",
		"payer_performance_summary",
	} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("embedded migrations do not create %s", table)
		}
	}
}

func loadFixture(t *testing.T) []Migration {
	t.Helper()
	migrations, err := NewMigrator(nil, mapFS(map[string]string{
		"001_core.sql":   "SELECT 1;",
		"002_events.sql": "SELECT 2;",
		"003_verify.sql": "SELECT 3;",
	})).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	return migrations
}

func TestPlan(t *testing.T) {
	migrations := loadFixture(t)
	applied := map[int]appliedMigration{1: {at: time.Now(), checksum: migrations[0].Checksum}}

	pending, err := plan(migrations, applied, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("unexpected pending %+v", pending)
	}

	pending, err = plan(migrations, applied, 2)
	if err != nil {
		t.Fatalf("plan to 2: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("expected only version 2 up to target, got %+v", pending)
	}
}

func TestPlan_RejectsDrift(t *testing.T) {
	migrations := loadFixture(t)
	applied := map[int]appliedMigration{1: {checksum: "stale"}}
	if _, err := plan(migrations, applied, 0); err == nil {
		t.Fatal("expected error when an applied migration was edited")
	}

	// Rows recorded without a checksum are trusted.
	applied = map[int]appliedMigration{1: {}}
	if _, err := plan(migrations, applied, 0); err != nil {
		t.Fatalf("unexpected error for legacy row: %v", err)
	}
}

func TestStatuses(t *testing.T) {
	migrations := loadFixture(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	applied := map[int]appliedMigration{
		1: {at: at, checksum: migrations[0].Checksum},
		2: {at: at, checksum: "stale"},
	}

	got := statuses(migrations, applied)
	if len(got) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(got))
	}
	if !got[0].Applied || got[0].Drifted || got[0].AppliedAt == nil || !got[0].AppliedAt.Equal(at) {
		t.Errorf("unexpected status for 001: %+v", got[0])
	}
	if !got[1].Drifted {
		t.Error("expected 002 to be reported as drifted")
	}
	if got[2].Applied || got[2].AppliedAt != nil {
		t.Errorf("expected 003 pending, got %+v", got[2])
	}
}

func TestNewMigrator(t *testing.T) {
	fsys := fstest.MapFS{}
	m := NewMigrator(nil, fsys)
	if m == nil {
		t.Fatal("expected non-nil Migrator")
	}
	if m.pool != nil {
		t.Error("expected nil pool")
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	m := NewMigrator(nil, os.DirFS("/nonexistent/path/that/does/not/exist"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}
