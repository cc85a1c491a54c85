package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	embeddedmigrations "github.com/solatis/rulekeeper/migrations"
)

/*
 * Schema migrations.
 *
 * The rulekeeper schema holds three groups of tables:
 *   - the directory the engine reads: users, fields, field_values,
 *     hierarchy_nodes, profile_values and the membership tables for user
 *     groups, classes and certifications.
 *   - roles, abilities and role_admin_rules, the delegated rule of each role.
 *   - rule trees (rules, expressions) and their rule_revisions history.
 *
 * Each dialect ships its own numbered files under migrations/. A migration
 * and its bookkeeping row commit in one transaction. Applied files are
 * pinned by SHA-256; editing one after it ran fails every later MigrateUp.
 */

// MigrationStatus is one embedded migration and, once applied, its bookkeeping row.
type MigrationStatus struct {
	ID          string  `db:"migration_id"`
	Checksum    string  `db:"checksum"`
	Applied     bool    `db:"-"`
	AppliedAt   *string `db:"applied_at"`
	ExecutionMs int64   `db:"execution_ms"`
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// migrationSet is the embedded migrations of one dialect next to what the
// database has recorded.
type migrationSet struct {
	files   []migration
	applied map[string]MigrationStatus
}

// loadMigrations parses the dialect's files and reads the bookkeeping table,
// creating it on first use.
func loadMigrations(ctx context.Context, db *sqlx.DB) (*migrationSet, error) {
	fsys, dir, err := migrationsFor(db)
	if err != nil {
		return nil, err
	}
	files, err := parseMigrationFiles(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	if err := createMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var rows []MigrationStatus
	if err := db.SelectContext(ctx, &rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	set := &migrationSet{files: files, applied: make(map[string]MigrationStatus, len(rows))}
	for _, row := range rows {
		row.Applied = true
		set.applied[row.ID] = row
	}
	return set, nil
}

func migrationsFor(db *sqlx.DB) (embed.FS, string, error) {
	switch db.DriverName() {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}
}

// verify rejects recorded migrations that are unknown or whose file changed.
func (s *migrationSet) verify() error {
	byID := make(map[string]string, len(s.files))
	for _, m := range s.files {
		byID[m.ID] = m.Checksum
	}
	for id, row := range s.applied {
		want, ok := byID[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if row.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, row.Checksum)
		}
	}
	return nil
}

func (s *migrationSet) pending() []migration {
	var out []migration
	for _, m := range s.files {
		if _, ok := s.applied[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// MigrateUp applies every pending migration of the connection's dialect in
// file order.
func MigrateUp(ctx context.Context, db *sqlx.DB, logger zerolog.Logger) error {
	set, err := loadMigrations(ctx, db)
	if err != nil {
		return err
	}
	if err := set.verify(); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}

	for _, m := range set.pending() {
		d, err := applyMigration(ctx, db, m)
		if err != nil {
			return err
		}
		logger.Info().
			Str("migration", m.ID).
			Dur("duration", d).
			Msg("applied migration")
	}
	return nil
}

// MigrateStatus lists every embedded migration, applied or pending, in file order.
func MigrateStatus(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	set, err := loadMigrations(ctx, db)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(set.files))
	for _, m := range set.files {
		if row, ok := set.applied[m.ID]; ok {
			statuses = append(statuses, row)
			continue
		}
		statuses = append(statuses, MigrationStatus{ID: m.ID, Checksum: m.Checksum})
	}
	return statuses, nil
}

// parseMigrationFiles reads dir's .sql files sorted by name.
func parseMigrationFiles(fsys fs.FS, dir string) ([]migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			ID:       path.Base(name),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	return out, nil
}

// createMigrationsTable creates the bookkeeping table. applied_at is RFC3339
// text in both dialects, like every other timestamp in the schema.
func createMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL,
			CHECK (applied_at LIKE '____-__-__T__:__:__Z')
		)
	`)
	return err
}

// applyMigration runs m's statements and records it in one transaction.
func applyMigration(ctx context.Context, db *sqlx.DB, m migration) (time.Duration, error) {
	start := time.Now()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	defer tx.Rollback()

	// lib/pq runs one statement per Exec.
	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
	}

	d := time.Since(start)
	_, err = tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC().Format(time.RFC3339), d.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return d, nil
}

// splitStatements splits a migration on ';' and drops comment-only chunks.
// Migration files must not use ';' inside comments or string literals.
func splitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}
