// Package milestone decomposes a project's CLAUDE.md specification into
// ordered milestones.
//
// The expected layout is a "## Milestones" section containing one
// "### Milestone N: Title" heading per milestone. Bullet lines under a
// heading become success criteria; any other text becomes the description.
package milestone

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoMilestones is returned when the spec has no milestone section or the
// section contains no milestone headings.
var ErrNoMilestones = errors.New("no milestones found in spec")

// Milestone is one unit of project work. Milestones are immutable once parsed
// and regenerated on every run.
type Milestone struct {
	Number          int      `json:"number"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	SuccessCriteria []string `json:"success_criteria"`
}

// Dir returns the milestone's directory name under .cc_automator/milestones.
func (m Milestone) Dir() string {
	return fmt.Sprintf("milestone_%d", m.Number)
}

// Title returns "Milestone N: Name".
func (m Milestone) Title() string {
	return fmt.Sprintf("Milestone %d: %s", m.Number, m.Name)
}

var (
	sectionRe = regexp.MustCompile(`(?m)^##\s+Milestones\s*$`)
	headingRe = regexp.MustCompile(`(?i)^###\s+Milestone\s+(\d+)\s*[:\-]?\s*(.*)$`)
)

// Parse extracts milestones from the markdown spec text, sorted by number.
func Parse(markdown string) ([]Milestone, error) {
	loc := sectionRe.FindStringIndex(markdown)
	if loc == nil {
		return nil, ErrNoMilestones
	}

	section := markdown[loc[1]:]
	// The section runs until the next level-two heading.
	lines := strings.Split(section, "\n")
	var body []string
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			break
		}
		body = append(body, line)
	}

	var (
		milestones []Milestone
		current    *Milestone
		desc       []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Description = strings.TrimSpace(strings.Join(desc, "\n"))
		milestones = append(milestones, *current)
		current = nil
		desc = nil
	}

	for _, raw := range body {
		line := strings.TrimSpace(raw)
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid milestone number %q: %w", m[1], err)
			}
			current = &Milestone{
				Number:          n,
				Name:            strings.TrimSpace(m[2]),
				SuccessCriteria: []string{},
			}
			continue
		}
		if current == nil || line == "" {
			continue
		}
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			current.SuccessCriteria = append(current.SuccessCriteria, strings.TrimSpace(line[2:]))
			continue
		}
		desc = append(desc, line)
	}
	flush()

	if len(milestones) == 0 {
		return nil, ErrNoMilestones
	}

	sort.SliceStable(milestones, func(i, j int) bool {
		return milestones[i].Number < milestones[j].Number
	})
	for i := 1; i < len(milestones); i++ {
		if milestones[i].Number == milestones[i-1].Number {
			return nil, fmt.Errorf("duplicate milestone number %d", milestones[i].Number)
		}
	}

	return milestones, nil
}

// LoadFile reads and parses a spec file.
func LoadFile(path string) ([]Milestone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return Parse(string(data))
}

// Filter returns only the milestone with the given number, or all milestones
// when number is zero.
func Filter(milestones []Milestone, number int) ([]Milestone, error) {
	if number == 0 {
		return milestones, nil
	}
	for _, m := range milestones {
		if m.Number == number {
			return []Milestone{m}, nil
		}
	}
	return nil, fmt.Errorf("milestone %d not found", number)
}
