// Package phasectx assembles the minimal context handed to each phase: a
// summary of the previous phase's evidence and the files the phase is
// likely to touch.
package phasectx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/state"
)

// Default size caps.
const (
	DefaultMaxSize        = 8000
	DefaultSummaryLength  = 1500
	DefaultMaxFilesListed = 40
)

var skipDirs = map[string]bool{
	".git": true, ".cc_automator": true, "__pycache__": true, "venv": true, ".venv": true,
	"node_modules": true, ".mypy_cache": true, ".pytest_cache": true,
}

// Manager builds phase context from the state store and project tree.
type Manager struct {
	store         *state.Store
	maxSize       int
	summaryLength int
	maxFiles      int
}

// NewManager creates a Manager with default caps.
func NewManager(store *state.Store) *Manager {
	return &Manager{
		store:         store,
		maxSize:       DefaultMaxSize,
		summaryLength: DefaultSummaryLength,
		maxFiles:      DefaultMaxFilesListed,
	}
}

// WithMaxSize returns a copy of m capped at n bytes.
func (m *Manager) WithMaxSize(n int) *Manager {
	c := *m
	c.maxSize = n
	return &c
}

// Build returns the context for phase t of milestone ms.
func (m *Manager) Build(ms milestone.Milestone, t phase.Type) string {
	var b strings.Builder

	if prev, ok := previous(t); ok {
		if text, _ := m.store.ReadEvidence(ms.Number, string(prev)); text != "" {
			fmt.Fprintf(&b, "Previous phase (%s) evidence summary:\n%s\n\n", prev, truncate(text, m.summaryLength))
		}
	}

	switch t {
	case phase.Implement:
		if plan, _ := m.store.ReadEvidence(ms.Number, string(phase.Planning)); plan != "" {
			fmt.Fprintf(&b, "Implementation plan:\n%s\n\n", truncate(plan, m.summaryLength*2))
		}
	case phase.Architecture, phase.Lint, phase.Typecheck:
		m.listFiles(&b, "Source files", func(rel string) bool {
			return strings.HasSuffix(rel, ".py") && !isTest(rel)
		})
	case phase.Test, phase.Integration:
		m.listFiles(&b, "Test files", isTest)
		m.listFiles(&b, "Source files", func(rel string) bool {
			return strings.HasSuffix(rel, ".py") && !isTest(rel)
		})
	case phase.E2E, phase.Validate:
		for _, entry := range []string{"main.py", "app.py", "__main__.py", "cli.py"} {
			if _, err := os.Stat(filepath.Join(m.store.ProjectDir(), entry)); err == nil {
				fmt.Fprintf(&b, "Main entry point: %s\n\n", entry)
				break
			}
		}
		if len(ms.SuccessCriteria) > 0 {
			b.WriteString("Criteria to demonstrate:\n")
			for _, c := range ms.SuccessCriteria {
				fmt.Fprintf(&b, "- %s\n", c)
			}
			b.WriteString("\n")
		}
	}

	return truncate(strings.TrimSpace(b.String()), m.maxSize)
}

func (m *Manager) listFiles(b *strings.Builder, title string, match func(string) bool) {
	root := m.store.ProjectDir()
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if len(files) == 0 {
		return
	}
	sort.Strings(files)
	fmt.Fprintf(b, "%s:\n", title)
	for i, f := range files {
		if i == m.maxFiles {
			fmt.Fprintf(b, "- ... and %d more\n", len(files)-m.maxFiles)
			break
		}
		fmt.Fprintf(b, "- %s\n", f)
	}
	b.WriteString("\n")
}

func previous(t phase.Type) (phase.Type, bool) {
	i := t.Index()
	if i <= 0 {
		return "", false
	}
	return phase.Ordered()[i-1], true
}

func isTest(rel string) bool {
	base := filepath.Base(rel)
	return strings.HasSuffix(rel, ".py") &&
		(strings.HasPrefix(rel, "tests/") || strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py"))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}
