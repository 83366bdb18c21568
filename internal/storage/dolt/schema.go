package dolt

import (
	"context"
	"fmt"
	"strings"
)

// currentSchemaVersion is bumped whenever schema changes.
const currentSchemaVersion = 1

const schema = `
-- Projects, features and tasks share one table, keyed by kind.
CREATE TABLE IF NOT EXISTS items (
    id VARCHAR(255) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    parent_id VARCHAR(255) NOT NULL DEFAULT '',
    title VARCHAR(500) NOT NULL,
    status VARCHAR(64) NOT NULL,
    tags TEXT,
    requires_verification TINYINT(1) NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    PRIMARY KEY (id),
    INDEX idx_items_parent (kind, parent_id)
);

CREATE TABLE IF NOT EXISTS dependencies (
    from_task_id VARCHAR(255) NOT NULL,
    to_task_id VARCHAR(255) NOT NULL,
    type VARCHAR(32) NOT NULL DEFAULT 'BLOCKS',
    unblock_at VARCHAR(16) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    PRIMARY KEY (from_task_id, to_task_id),
    INDEX idx_dependencies_to (to_task_id)
);

CREATE TABLE IF NOT EXISTS metadata (
    ` + "`key`" + ` VARCHAR(255) NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (` + "`key`" + `)
);
`

// initSchema creates all tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	// Fast path: skip the DDL when the schema is already current.
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT `value` FROM metadata WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentSchemaVersion {
		return nil
	}

	// MySQL does not accept several statements in one Exec.
	for _, stmt := range splitStatements(schema) {
		if isOnlyComments(stmt) {
			continue
		}
		if _, err := s.execContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w\nStatement: %s", err, truncateForError(stmt))
		}
	}

	if _, err := s.execContext(ctx,
		"INSERT INTO metadata (`key`, `value`) VALUES ('schema_version', ?) "+
			"ON DUPLICATE KEY UPDATE `value` = VALUES(`value`)",
		currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// splitStatements splits a SQL script on semicolons outside quotes and
// drops -- line comments.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(script); i++ {
		c := script[i]

		if inString {
			current.WriteByte(c)
			if c == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
			continue
		}

		if c == '-' && i+1 < len(script) && script[i+1] == '-' {
			for i < len(script) && script[i] != '\n' {
				i++
			}
			if i < len(script) {
				current.WriteByte('\n')
			}
			continue
		}

		if c == '\'' || c == '"' || c == '`' {
			inString = true
			stringChar = c
			current.WriteByte(c)
			continue
		}

		if c == ';' {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(c)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

func truncateForError(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// isOnlyComments returns true if the statement contains only SQL comments.
func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}
