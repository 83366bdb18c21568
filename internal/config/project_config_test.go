package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateYamlKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		key      string
		value    string
		expected string
	}{
		{
			name:     "update commented key",
			content:  "# cascade.max-depth: 10\nother: value",
			key:      "cascade.max-depth",
			value:    "3",
			expected: "cascade.max-depth: 3\nother: value\n",
		},
		{
			name:     "update existing key",
			content:  "json: false\nother: value\n",
			key:      "json",
			value:    "TRUE",
			expected: "json: true\nother: value\n",
		},
		{
			name:     "add new key",
			content:  "other: value",
			key:      "lock.timeout",
			value:    "30s",
			expected: "other: value\n\nlock.timeout: 30s\n",
		},
		{
			name:     "preserve indentation",
			content:  "  # log.level: info",
			key:      "log.level",
			value:    "debug",
			expected: "  log.level: debug\n",
		},
		{
			name:     "quote special characters",
			content:  "",
			key:      "db.dsn",
			value:    "root@tcp(127.0.0.1:3306)/taskorch",
			expected: "db.dsn: \"root@tcp(127.0.0.1:3306)/taskorch\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, updateYamlKey(tt.content, tt.key, tt.value))
		})
	}
}

func TestFormatYamlValue(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"true", "true"},
		{"FALSE", "false"},
		{"123", "123"},
		{"-4", "-4"},
		{"30s", "30s"},
		{"5m", "5m"},
		{"simple", "simple"},
		{"has:colon", "\"has:colon\""},
		{"has#hash", "\"has#hash\""},
		{" leading", "\" leading\""},
		{"", "\"\""},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatYamlValue(tt.value))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "cascade.max-depth", normalizeKey("max-depth"))
	assert.Equal(t, "db.dsn", normalizeKey("dsn"))
	assert.Equal(t, "log.level", normalizeKey("log.level"))
}

func TestSetProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeProjectConfig(t, tmpDir, "# taskorch\n# cascade.max-depth: 10\nlog.level: info\n")
	t.Chdir(tmpDir)

	require.NoError(t, SetProjectConfig("max-depth", "3"))
	require.NoError(t, SetProjectConfig("log.level", "debug"))
	require.NoError(t, SetProjectConfig("lock.timeout", "45s"))

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	s := string(content)
	assert.Contains(t, s, "cascade.max-depth: 3")
	assert.NotContains(t, s, "# cascade.max-depth")
	assert.Contains(t, s, "log.level: debug")
	assert.Contains(t, s, "lock.timeout: 45s")

	require.NoError(t, Initialize())
	assert.Equal(t, 3, GetInt("cascade.max-depth"))
	assert.Equal(t, "debug", GetString("log.level"))
}

func TestSetProjectConfigRejects(t *testing.T) {
	tmpDir := t.TempDir()
	writeProjectConfig(t, tmpDir, "")
	t.Chdir(tmpDir)

	tests := []struct {
		key, value, want string
	}{
		{"no-such-key", "x", "unknown config key"},
		{"json", "yes", "not a boolean"},
		{"engine.concurrency", "2.5", "not an integer"},
		{"lock.timeout", "soon", "not a duration"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := SetProjectConfig(tt.key, tt.value)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSetProjectConfigWithoutProject(t *testing.T) {
	t.Chdir(t.TempDir())
	err := SetProjectConfig("json", "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}

func TestWriteProjectFiles(t *testing.T) {
	dir := t.TempDir()

	written, err := WriteProjectFiles(dir, []byte("status_progression: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, DirName, ConfigFileName),
		filepath.Join(dir, DirName, "workflow.yaml"),
	}, written)

	// Second run leaves existing files untouched.
	require.NoError(t, os.WriteFile(filepath.Join(dir, DirName, "workflow.yaml"), []byte("edited"), 0600))
	written, err = WriteProjectFiles(dir, []byte("ignored"))
	require.NoError(t, err)
	assert.Empty(t, written)

	data, err := os.ReadFile(filepath.Join(dir, DirName, "workflow.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))
}
