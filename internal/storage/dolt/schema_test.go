package dolt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schema)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS items")
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS dependencies")
	assert.Contains(t, stmts[2], "CREATE TABLE IF NOT EXISTS metadata")
	for _, s := range stmts {
		assert.False(t, isOnlyComments(s))
	}
}

func TestSplitStatementsQuotes(t *testing.T) {
	got := splitStatements("INSERT INTO t VALUES ('a;b'); SELECT `x;y` FROM t;\n-- trailing\n")
	assert.Equal(t, []string{
		"INSERT INTO t VALUES ('a;b')",
		"SELECT `x;y` FROM t",
	}, got)
}

func TestSplitStatementsComments(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"semicolon in comment", "-- one; two\nCREATE TABLE a (id INT);", []string{"CREATE TABLE a (id INT)"}},
		{"trailing comment", "SELECT 1; -- done; really\nSELECT 2", []string{"SELECT 1", "SELECT 2"}},
		{"dashes in string", "SELECT '--;--';", []string{"SELECT '--;--'"}},
		{"comment only", "-- nothing here;\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.script))
		})
	}
}

func TestIsOnlyComments(t *testing.T) {
	assert.True(t, isOnlyComments("-- a\n\n  -- b"))
	assert.False(t, isOnlyComments("-- a\nSELECT 1"))
}

func TestTruncateForError(t *testing.T) {
	assert.Equal(t, "short", truncateForError("short"))
	long := strings.Repeat("x", 150)
	assert.Equal(t, strings.Repeat("x", 100)+"...", truncateForError(long))
}
