package store

import (
	"database/sql"
	"fmt"

	"orchestro/internal/logging"
)

// RunMigrations brings an existing database up to the current schema.
// Each migration is idempotent: it checks for the column before adding it,
// so re-running against a current database is a no-op.
func RunMigrations(db *sql.DB) error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		// category was added after the initial task schema shipped
		{"tasks", "category", "ALTER TABLE tasks ADD COLUMN category TEXT DEFAULT ''"},
		// metadata holds the saved analysis record
		{"tasks", "metadata", "ALTER TABLE tasks ADD COLUMN metadata TEXT"},
		// success_count split out of usage_count for mcp tools
		{"mcp_tools", "success_count", "ALTER TABLE mcp_tools ADD COLUMN success_count INTEGER NOT NULL DEFAULT 0"},
		// improvement feedback got its own counter
		{"pattern_frequency", "improvement_count", "ALTER TABLE pattern_frequency ADD COLUMN improvement_count INTEGER NOT NULL DEFAULT 0"},
	}

	for _, m := range migrations {
		has, err := hasColumn(db, m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", m.table, err)
		}
		if has {
			continue
		}
		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.table, m.column, err)
		}
		logging.Store("Migration applied: %s.%s", m.table, m.column)
	}
	return nil
}

// hasColumn checks PRAGMA table_info for a column.
func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
