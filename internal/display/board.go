package display

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/thruflo/cc-automator/internal/state"
)

// Board renders the visual progress board: one row per milestone with its
// phase statuses, followed by the most recent agent output.
type Board struct {
	phases []string
	// cellWidth keeps phase cells in the same columns on every row.
	cellWidth int
	tail      *TailView
	color     bool
}

// NewBoard creates a Board listing phases in the given order.
func NewBoard(phases []string, tailLines int, color bool) *Board {
	cell := 0
	for _, ph := range phases {
		cell = max(cell, utf8.RuneCountInString(ph)+3)
	}
	return &Board{
		phases:    phases,
		cellWidth: cell,
		tail:      NewTailView(tailLines),
		color:     color,
	}
}

// Tail returns the agent output buffer shown under the board.
func (b *Board) Tail() *TailView {
	return b.tail
}

// Render renders the board for the given progress snapshot.
// Width specifies the terminal width for the view.
func (b *Board) Render(p *state.Progress, width int) string {
	if width < 40 {
		width = 40
	}
	innerWidth := width - 4 // Account for border padding

	var content []string
	if p == nil {
		content = append(content, "no run in progress")
		return b.box(content, width)
	}

	title := fmt.Sprintf("cc-automator: %s | %s", Truncate(p.Project, innerWidth-30), p.Status)
	content = append(content, b.style(Heading, title))

	done := 0
	for _, ms := range p.Milestones {
		if ms.Status == "completed" {
			done++
		}
	}
	if len(p.Milestones) > 0 {
		content = append(content, fmt.Sprintf("milestones %s", ProgressBar(done, len(p.Milestones), min(innerWidth-11, 40))))
	}

	for _, ms := range p.Milestones {
		marker := " "
		if ms.Number == p.CurrentMilestone {
			marker = "▶"
		}
		name := Truncate(fmt.Sprintf("%s %d. %s", marker, ms.Number, ms.Name), innerWidth)
		content = append(content, b.style(StatusStyle(ms.Status), name))

		var cells []string
		for _, ph := range b.phases {
			status, ok := ms.Phases[ph]
			if !ok {
				continue
			}
			cells = append(cells, PadOrTruncate(StatusEmoji(status)+" "+ph, b.cellWidth))
		}
		if len(cells) > 0 {
			for _, row := range WrapCells(cells, innerWidth-4) {
				content = append(content, "    "+strings.TrimRight(row, " "))
			}
		}
	}

	if lines := b.tail.Render(innerWidth, 8); len(lines) > 0 {
		content = append(content, "")
		for _, l := range lines {
			content = append(content, b.style(Muted, l))
		}
	}

	return b.box(content, width)
}

func (b *Board) style(s interface{ Render(...string) string }, text string) string {
	if !b.color {
		return text
	}
	return s.Render(text)
}

func (b *Board) box(content []string, width int) string {
	body := strings.Join(content, "\n")
	if !b.color {
		return body
	}
	return BoardBox.Width(width - 2).Render(body)
}

// WrapCells joins cells with two spaces, wrapping onto new rows at width.
func WrapCells(cells []string, width int) []string {
	var rows []string
	var cur string
	for _, c := range cells {
		switch {
		case cur == "":
			cur = c
		case len([]rune(cur))+2+len([]rune(c)) <= width:
			cur += "  " + c
		default:
			rows = append(rows, cur)
			cur = c
		}
	}
	if cur != "" {
		rows = append(rows, cur)
	}
	return rows
}
