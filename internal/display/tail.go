package display

import "sync"

// TailView keeps the most recent lines of agent output.
type TailView struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
}

// NewTailView creates a TailView with the specified maximum line buffer.
func NewTailView(maxLines int) *TailView {
	if maxLines < 1 {
		maxLines = 200 // Default buffer size
	}
	return &TailView{
		lines:    make([]string, 0, maxLines),
		maxLines: maxLines,
	}
}

// Append adds a line to the buffer, dropping the oldest beyond maxLines.
func (v *TailView) Append(line string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = append(v.lines, line)
	if len(v.lines) > v.maxLines {
		v.lines = v.lines[len(v.lines)-v.maxLines:]
	}
}

// Clear removes all lines from the buffer.
func (v *TailView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = v.lines[:0]
}

// Lines returns a copy of all lines in the buffer.
func (v *TailView) Lines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.lines))
	copy(out, v.lines)
	return out
}

// Render returns the last height lines, each truncated to width.
func (v *TailView) Render(width, height int) []string {
	lines := v.Lines()
	if height <= 0 || len(lines) == 0 {
		return nil
	}
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = Truncate(l, width)
	}
	return out
}
