package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Migration is a single idempotent shape change. Migrations run in
// order inside one EXCLUSIVE transaction on every open, guarded by
// pragma_table_info checks, so concurrent processes opening the same
// database cannot race on check-then-alter.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

var migrationsList = []Migration{
	{"message_subject_severity", migrateMessageSubjectSeverity},
	{"lease_agent_index", migrateLeaseAgentIndex},
	{"message_unread_index", migrateMessageUnreadIndex},
}

// schemaVersion is what meta.schema_version reads after a successful
// open: the base schema counts as 1, each migration adds 1.
var schemaVersion = 1 + len(migrationsList)

// SchemaVersion returns the version a fully migrated database reports
// in meta.schema_version. Health checks compare a live database's
// stamp against this.
func SchemaVersion() int { return schemaVersion }

// MigrationInfo describes a registered migration for inspection.
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListMigrations returns every registered migration with a description.
// All migrations are idempotent, so this is the full list rather than
// the pending subset.
func ListMigrations() []MigrationInfo {
	descriptions := map[string]string{
		"message_subject_severity": "Adds subject and severity columns to messages",
		"lease_agent_index":        "Adds (agent_id, expires_at) index for per-agent lease scans",
		"message_unread_index":     "Adds partial index over unread messages",
	}
	result := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		desc, ok := descriptions[m.Name]
		if !ok {
			desc = "Unknown migration"
		}
		result[i] = MigrationInfo{Name: m.Name, Description: desc}
	}
	return result
}

// RunMigrations executes all registered migrations in order and stamps
// meta.schema_version. The EXCLUSIVE transaction serializes migrations
// across processes that open the database simultaneously.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, migration := range migrationsList {
		if err := migration.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
	}

	if _, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true

	return nil
}

// columnExists reports whether table already has the named column.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	var name string
	err := db.QueryRow(`
		SELECT name FROM pragma_table_info(?) WHERE name = ?
	`, table, column).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func migrateMessageSubjectSeverity(db *sql.DB) error {
	for _, column := range []string{"subject", "severity"} {
		exists, err := columnExists(db, "messages", column)
		if err != nil {
			return fmt.Errorf("failed to inspect messages table: %w", err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf(`ALTER TABLE messages ADD COLUMN %s TEXT`, column)); err != nil {
			return fmt.Errorf("failed to add %s column: %w", column, err)
		}
	}
	return nil
}

func migrateLeaseAgentIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_leases_agent_expiry ON leases(agent_id, expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create lease agent index: %w", err)
	}
	return nil
}

func migrateMessageUnreadIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(to_type, to_id) WHERE read_at IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to create unread message index: %w", err)
	}
	return nil
}
