package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// KnownKeys lists the settings taskorch reads. SetProjectConfig refuses
// anything else so a typo does not silently do nothing.
var KnownKeys = map[string]string{
	"json":               "bool",
	"workflow.path":      "string",
	"cascade.max-depth":  "int",
	"lock.timeout":       "duration",
	"engine.concurrency": "int",
	"log.level":          "string",
	"log.json":           "bool",
	"db.dsn":             "string",
	"state.path":         "string",
}

// keyAliases maps shorthand spellings to their canonical key.
var keyAliases = map[string]string{
	"workflow":  "workflow.path",
	"max-depth": "cascade.max-depth",
	"dsn":       "db.dsn",
	"state":     "state.path",
}

func normalizeKey(key string) string {
	if canonical, ok := keyAliases[key]; ok {
		return canonical
	}
	return key
}

// SortedKeys returns KnownKeys in lexical order.
func SortedKeys() []string {
	keys := make([]string, 0, len(KnownKeys))
	for k := range KnownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetProjectConfig sets a value in the project's .taskorch/config.yaml.
// Existing keys, including commented-out ones, are updated in place; new keys
// are appended.
func SetProjectConfig(key, value string) error {
	key = normalizeKey(key)
	kind, ok := KnownKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := checkValue(kind, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	configPath, ok := findProjectConfig()
	if !ok {
		return fmt.Errorf("no %s/%s found (run 'taskorch config init' first)", DirName, ConfigFileName)
	}

	content, err := os.ReadFile(configPath) // #nosec G304 - path from findProjectConfig
	if err != nil {
		return fmt.Errorf("failed to read config.yaml: %w", err)
	}

	newContent := updateYamlKey(string(content), key, value)

	if err := os.WriteFile(configPath, []byte(newContent), 0600); err != nil {
		return fmt.Errorf("failed to write config.yaml: %w", err)
	}
	return nil
}

func checkValue(kind, value string) error {
	switch kind {
	case "bool":
		switch strings.ToLower(value) {
		case "true", "false":
			return nil
		}
		return fmt.Errorf("%q is not a boolean", value)
	case "int":
		if !isNumeric(value) || strings.Contains(value, ".") {
			return fmt.Errorf("%q is not an integer", value)
		}
	case "duration":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%q is not a duration", value)
		}
	}
	return nil
}

// WriteProjectFiles creates dir/.taskorch with a config.yaml and the given
// workflow document. Existing files are left alone; the paths actually
// written are returned.
func WriteProjectFiles(dir string, workflowYAML []byte) ([]string, error) {
	root := filepath.Join(dir, DirName)
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}

	var written []string
	files := []struct {
		name string
		data []byte
	}{
		{ConfigFileName, []byte(defaultConfigYAML)},
		{"workflow.yaml", workflowYAML},
	}
	for _, f := range files {
		path := filepath.Join(root, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, f.data, 0600); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

const defaultConfigYAML = `# taskorch configuration
# Environment variables override these (TASKORCH_CASCADE_MAX_DEPTH, ...).

# workflow.path: .taskorch/workflow.yaml
# cascade.max-depth: 10
# lock.timeout: 5m
# engine.concurrency: 4
# log.level: info
# log.json: false
# state.path: .taskorch/state.yaml
# db.dsn: root@tcp(127.0.0.1:3306)/taskorch
`

// updateYamlKey replaces the line holding key (commented or not) or appends
// a new one.
func updateYamlKey(content, key, value string) string {
	newLine := fmt.Sprintf("%s: %s", key, formatYamlValue(value))

	keyPattern := regexp.MustCompile(`^(\s*)(#\s*)?` + regexp.QuoteMeta(key) + `\s*:`)

	found := false
	var result []string

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if !found && keyPattern.MatchString(line) {
			matches := keyPattern.FindStringSubmatch(line)
			result = append(result, matches[1]+newLine)
			found = true
			continue
		}
		result = append(result, line)
	}

	if !found {
		if len(result) > 0 && result[len(result)-1] != "" {
			result = append(result, "")
		}
		result = append(result, newLine)
	}

	return strings.Join(result, "\n") + "\n"
}

func formatYamlValue(value string) string {
	lower := strings.ToLower(value)
	if lower == "true" || lower == "false" {
		return lower
	}
	if isNumeric(value) || isDuration(value) {
		return value
	}
	if needsQuoting(value) {
		return fmt.Sprintf("%q", value)
	}
	return value
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	suffix := s[len(s)-1]
	if suffix != 's' && suffix != 'm' && suffix != 'h' {
		return false
	}
	return isNumeric(s[:len(s)-1])
}

func needsQuoting(s string) bool {
	if strings.ContainsAny(s, ":#[]{},&*!|>'\"%@`") {
		return true
	}
	return strings.TrimSpace(s) != s || s == ""
}
