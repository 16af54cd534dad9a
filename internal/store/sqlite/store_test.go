package sqlite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/punchamoorthee/refledger/internal/store/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTempStore(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	var count int
	if err := reopened.sqlDB.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("migrations = %d, want 1", count)
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	got := extractUpMigration(content)
	want := "\nCREATE TABLE a (id TEXT);\n"
	if got != want {
		t.Fatalf("extractUpMigration = %q, want %q", got, want)
	}
}

func TestUniqueColumn(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"duplicate key: constraint failed: UNIQUE constraint failed: users.phone_number (2067)", "users.phone_number"},
		{"UNIQUE constraint failed: commission_entries.referrer_id, commission_entries.purchase_id", "commission_entries.referrer_id"},
		{"database is locked", ""},
	}
	for _, tt := range tests {
		if got := uniqueColumn(errors.New(tt.msg)); got != tt.want {
			t.Fatalf("uniqueColumn(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
	if got := uniqueColumn(nil); got != "" {
		t.Fatalf("uniqueColumn(nil) = %q, want empty", got)
	}
}
