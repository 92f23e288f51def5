package pycheck

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ArchitectureLimits are the structural thresholds enforced on Python sources.
type ArchitectureLimits struct {
	MaxFileLines     int
	MaxFunctionLines int
	MaxParams        int
	MaxNesting       int
}

// DefaultArchitectureLimits returns the standard thresholds.
func DefaultArchitectureLimits() ArchitectureLimits {
	return ArchitectureLimits{
		MaxFileLines:     1000,
		MaxFunctionLines: 50,
		MaxParams:        5,
		MaxNesting:       4,
	}
}

var skipDirs = map[string]bool{
	".git": true, ".cc_automator": true, "__pycache__": true, "venv": true,
	".venv": true, "node_modules": true, ".mypy_cache": true, ".pytest_cache": true,
	"build": true, "dist": true,
}

var (
	defRe   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	blockRe = regexp.MustCompile(`^(if|elif|else|for|while|with|try|except|finally|async\s+for|async\s+with|match|case)\b.*:\s*(#.*)?$`)
)

// CheckArchitecture scans every .py file under root and reports violations.
func CheckArchitecture(root string, limits ArchitectureLimits) ([]Issue, error) {
	var issues []Issue
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		found, err := checkFile(path, filepath.ToSlash(rel), limits)
		if err != nil {
			return err
		}
		issues = append(issues, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sources: %w", err)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		return issues[i].Line < issues[j].Line
	})
	return issues, nil
}

func checkFile(path, name string, limits ArchitectureLimits) ([]Issue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.ReplaceAll(scanner.Text(), "\t", "    "))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return CheckSource(name, lines, limits), nil
}

// CheckSource applies the limits to already-read source lines.
func CheckSource(name string, lines []string, limits ArchitectureLimits) []Issue {
	var issues []Issue
	if len(lines) > limits.MaxFileLines {
		issues = append(issues, Issue{
			File:    name,
			Line:    1,
			Code:    "ARCH001",
			Message: fmt.Sprintf("file has %d lines (max %d)", len(lines), limits.MaxFileLines),
		})
	}

	for i, line := range lines {
		m := defRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])
		fn := m[2]

		sig, sigEnd := signature(lines, i)
		if n := countParams(sig); n > limits.MaxParams {
			issues = append(issues, Issue{
				File: name, Line: i + 1, Code: "ARCH003",
				Message: fmt.Sprintf("function %s has %d parameters (max %d)", fn, n, limits.MaxParams),
			})
		}

		end := functionEnd(lines, sigEnd, indent)
		if length := end - i; length > limits.MaxFunctionLines {
			issues = append(issues, Issue{
				File: name, Line: i + 1, Code: "ARCH002",
				Message: fmt.Sprintf("function %s has %d lines (max %d)", fn, length, limits.MaxFunctionLines),
			})
		}

		if depth, at := maxNesting(lines[sigEnd+1:end], indent); depth > limits.MaxNesting {
			issues = append(issues, Issue{
				File: name, Line: sigEnd + 2 + at, Code: "ARCH004",
				Message: fmt.Sprintf("function %s nests %d levels deep (max %d)", fn, depth, limits.MaxNesting),
			})
		}
	}
	return issues
}

// signature returns the parameter text of the def starting at line i and the
// index of the line closing it.
func signature(lines []string, i int) (string, int) {
	var b strings.Builder
	depth := 0
	started := false
	for j := i; j < len(lines); j++ {
		for _, r := range lines[j] {
			switch r {
			case '(':
				depth++
				if !started {
					started = true
					continue
				}
			case ')':
				depth--
				if started && depth == 0 {
					return b.String(), j
				}
			}
			if started {
				b.WriteRune(r)
			}
		}
		b.WriteRune(' ')
	}
	return b.String(), len(lines) - 1
}

func countParams(sig string) int {
	depth := 0
	var parts []string
	var cur strings.Builder
	for _, r := range sig {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
				continue
			}
		}
		cur.WriteRune(r)
	}
	parts = append(parts, cur.String())

	n := 0
	for _, p := range parts {
		p = strings.TrimSpace(p)
		name := strings.TrimSpace(strings.SplitN(strings.SplitN(p, ":", 2)[0], "=", 2)[0])
		switch name {
		case "", "self", "cls", "*", "/":
			continue
		}
		n++
	}
	return n
}

// functionEnd returns the index one past the last line of the body.
func functionEnd(lines []string, sigEnd, indent int) int {
	last := sigEnd
	for j := sigEnd + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if leading(lines[j]) <= indent {
			break
		}
		last = j
	}
	return last + 1
}

// maxNesting returns the deepest block-statement nesting in body, relative to
// the function at defIndent, and the body offset where it occurs.
func maxNesting(body []string, defIndent int) (int, int) {
	var stack []int
	best, at := 0, 0
	for k, line := range body {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ind := leading(line)
		for len(stack) > 0 && stack[len(stack)-1] >= ind {
			stack = stack[:len(stack)-1]
		}
		if ind <= defIndent {
			continue
		}
		if blockRe.MatchString(trimmed) {
			stack = append(stack, ind)
			if len(stack) > best {
				best, at = len(stack), k
			}
		}
	}
	return best, at
}

func leading(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}
