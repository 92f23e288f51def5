package pycheck

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Issue is a single problem at a source location.
type Issue struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Location returns "file:line".
func (i Issue) Location() string {
	return fmt.Sprintf("%s:%d", i.File, i.Line)
}

func (i Issue) String() string {
	if i.Code != "" {
		return fmt.Sprintf("%s: %s %s", i.Location(), i.Code, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Location(), i.Message)
}

var (
	flake8Re = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s+([A-Z]\d+)\s+(.*)$`)
	mypyRe   = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s+error:\s+(.*)$`)
	failedRe = regexp.MustCompile(`^(?:FAILED|ERROR)\s+([^:\s]+)(?:::(\S+))?(?:\s+-\s+(.*))?$`)
	countRe  = regexp.MustCompile(`(\d+)\s+(passed|failed|errors?|skipped|xfailed|xpassed)`)
)

// ParseFlake8 parses `path:line:col: CODE message` lines, keeping only
// F-codes (pyflakes errors).
func ParseFlake8(output string) []Issue {
	var issues []Issue
	for _, line := range strings.Split(output, "\n") {
		m := flake8Re.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || !strings.HasPrefix(m[4], "F") {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		issues = append(issues, Issue{File: normalizePath(m[1]), Line: n, Column: col, Code: m[4], Message: m[5]})
	}
	return issues
}

// ParseMypy parses `path:line[:col]: error: message` lines. Column is zero
// when mypy was run without --show-column-numbers.
func ParseMypy(output string) []Issue {
	var issues []Issue
	for _, line := range strings.Split(output, "\n") {
		m := mypyRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		issues = append(issues, Issue{File: normalizePath(m[1]), Line: n, Column: col, Message: m[4]})
	}
	return issues
}

func normalizePath(p string) string {
	return strings.TrimPrefix(p, "./")
}

// GroupByFile buckets issues by file, preserving line order.
func GroupByFile(issues []Issue) map[string][]Issue {
	out := make(map[string][]Issue)
	for _, i := range issues {
		out[i.File] = append(out[i.File], i)
	}
	for f := range out {
		sort.SliceStable(out[f], func(a, b int) bool { return out[f][a].Line < out[f][b].Line })
	}
	return out
}

// Files returns the sorted file names of a grouping.
func Files(groups map[string][]Issue) []string {
	files := make([]string, 0, len(groups))
	for f := range groups {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// PytestSummary holds the counts from pytest's final summary line.
type PytestSummary struct {
	Passed  int
	Failed  int
	Errors  int
	Skipped int
	Found   bool
	Failing []Issue
}

// OK requires at least one pass and no failures or errors.
func (s PytestSummary) OK() bool {
	return s.Found && s.Passed > 0 && s.Failed == 0 && s.Errors == 0
}

// ParsePytest extracts the summary counts and failing test ids.
func ParsePytest(output string) PytestSummary {
	var s PytestSummary
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if m := failedRe.FindStringSubmatch(line); m != nil {
			s.Failing = append(s.Failing, Issue{File: normalizePath(m[1]), Code: m[2], Message: m[3]})
		}
	}
	// The summary is the last line carrying counts.
	for i := len(lines) - 1; i >= 0; i-- {
		matches := countRe.FindAllStringSubmatch(lines[i], -1)
		if len(matches) == 0 {
			continue
		}
		s.Found = true
		for _, m := range matches {
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "passed":
				s.Passed = n
			case "failed":
				s.Failed = n
			case "error", "errors":
				s.Errors = n
			case "skipped":
				s.Skipped = n
			}
		}
		break
	}
	return s
}
