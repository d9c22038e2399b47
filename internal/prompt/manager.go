// Package prompt resolves named system-prompt templates from a two-tier
// directory hierarchy. The base tier ships with the binary; an optional
// user tier, backed by a git repository, shadows it file-for-file and
// lets the assistant rewrite its own instructions with full history.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Manager loads prompt templates, preferring the user tier when a
// same-named template exists there.
type Manager struct {
	baseDir string
	userDir string
	repoURL string
}

// NewManager creates a Manager. userDir and repoURL are optional; when
// both are set, the user tier is synchronized with the remote before
// first use. Sync failures are logged and the manager falls back to
// whatever local state exists.
func NewManager(baseDir, userDir, repoURL string) *Manager {
	m := &Manager{baseDir: baseDir, userDir: userDir, repoURL: repoURL}
	if userDir != "" && repoURL != "" {
		m.syncUserRepo()
	}
	return m
}

// HasUserTier reports whether a writable user tier is configured.
func (m *Manager) HasUserTier() bool {
	return m.userDir != ""
}

// Load reads the template for name and substitutes vars into it.
// Placeholders use $name or ${name} syntax; a placeholder with no
// matching variable is left in the output verbatim, which allows
// partially-authored templates.
func (m *Manager) Load(name string, vars map[string]string) (string, error) {
	text, err := m.readTemplate(name)
	if err != nil {
		return "", err
	}
	return Render(text, vars), nil
}

// readTemplate reads raw template text, preferring the user tier.
func (m *Manager) readTemplate(name string) (string, error) {
	filename := name + ".md"
	if m.userDir != "" {
		data, err := os.ReadFile(filepath.Join(m.userDir, filename))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			slog.Warn("reading user prompt failed, falling back to base tier", "name", name, "error", err)
		}
	}
	data, err := os.ReadFile(filepath.Join(m.baseDir, filename))
	if err != nil {
		return "", fmt.Errorf("no prompt template found for %q (checked %s and %s)",
			name, m.userDir, m.baseDir)
	}
	return string(data), nil
}

// Render substitutes vars into template text. Recognized placeholders
// are $name and ${name}; $$ renders a literal dollar sign. Placeholders
// naming an unknown variable stay untouched.
func Render(template string, vars map[string]string) string {
	var out []byte
	for i := 0; i < len(template); {
		c := template[i]
		if c != '$' {
			out = append(out, c)
			i++
			continue
		}
		if i+1 < len(template) && template[i+1] == '$' {
			out = append(out, '$')
			i += 2
			continue
		}
		name, consumed := scanPlaceholder(template[i+1:])
		if name == "" {
			out = append(out, '$')
			i++
			continue
		}
		if val, ok := vars[name]; ok {
			out = append(out, val...)
		} else {
			out = append(out, template[i:i+1+consumed]...)
		}
		i += 1 + consumed
	}
	return string(out)
}

// scanPlaceholder reads a placeholder name following a '$'. Returns the
// name and how many bytes it spans in the template (including braces).
func scanPlaceholder(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	if s[0] == '{' {
		end := -1
		for j := 1; j < len(s); j++ {
			if s[j] == '}' {
				end = j
				break
			}
			if !isIdentByte(s[j]) {
				return "", 0
			}
		}
		if end <= 1 {
			return "", 0
		}
		return s[1:end], end + 1
	}
	if !isIdentStart(s[0]) {
		return "", 0
	}
	j := 1
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	return s[:j], j
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
