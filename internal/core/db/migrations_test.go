package db

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- users
CREATE TABLE a (id INTEGER);

-- only a comment;
CREATE INDEX a_id ON a (id);
`
	want := []string{"CREATE TABLE a (id INTEGER)", "CREATE INDEX a_id ON a (id)"}
	if got := splitStatements(sql); !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements() = %q, want %q", got, want)
	}
}

func TestMigrate_StatusAndRerun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	statuses, err := MigrateStatus(ctx, store.DB())
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("MigrateStatus() returned no migrations")
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil || len(s.Checksum) != 64 {
			t.Errorf("migration %s = %+v, want applied with sha256 checksum", s.ID, s)
		}
	}

	if err := MigrateUp(ctx, store.DB(), zerolog.Nop()); err != nil {
		t.Errorf("second MigrateUp() error = %v, want nil", err)
	}
}

func TestMigrate_RejectsTamperedHistory(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		wantErr string
	}{
		{
			name:    "changed checksum",
			stmt:    "UPDATE migrations SET checksum = 'deadbeef'",
			wantErr: "checksum mismatch",
		},
		{
			name:    "unknown migration",
			stmt:    "INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES ('999_gone.sql', 'x', '2026-01-01T00:00:00Z', 1)",
			wantErr: "not in embedded files",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			ctx := context.Background()
			if _, err := store.DB().ExecContext(ctx, tt.stmt); err != nil {
				t.Fatalf("setup: %v", err)
			}
			err := MigrateUp(ctx, store.DB(), zerolog.Nop())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("MigrateUp() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
