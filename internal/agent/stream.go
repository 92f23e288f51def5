package agent

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the type of stream-json event.
type EventType string

const (
	// EventTypeSystem is a system event (e.g., init).
	EventTypeSystem EventType = "system"
	// EventTypeAssistant is an assistant message (text or tool use).
	EventTypeAssistant EventType = "assistant"
	// EventTypeUser is a user message (typically tool results).
	EventTypeUser EventType = "user"
	// EventTypeResult is the terminal event of a run.
	EventTypeResult EventType = "result"
)

// Result subtypes.
const (
	SubtypeSuccess              = "success"
	SubtypeErrorMaxTurns        = "error_max_turns"
	SubtypeErrorDuringExecution = "error_during_execution"
)

// ContentType identifies the type of content in a message.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// StreamEvent represents a parsed stream-json event.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Subtype   string    `json:"subtype,omitempty"`
	SessionID string    `json:"session_id,omitempty"`

	// Message is present for assistant and user events.
	Message *Message `json:"message,omitempty"`

	// Result fields (present when Type == "result")
	IsError      bool    `json:"is_error,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	Result       string  `json:"result,omitempty"`

	// Tools is present in init events.
	Tools []string `json:"tools,omitempty"`

	// CostParseError is set when the cost fields could not be decoded and
	// were dropped.
	CostParseError bool `json:"-"`
}

// Message represents an agent message with content blocks.
type Message struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock represents a piece of content in a message.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

var costFields = []string{"total_cost_usd", "cost_usd"}

// ParseStreamEvent parses a line of stream-json output into a StreamEvent.
// Returns nil, nil if the line is empty. A result event whose cost fields are
// malformed is still returned, with CostParseError set.
func ParseStreamEvent(line string) (*StreamEvent, error) {
	if line == "" {
		return nil, nil
	}

	var event StreamEvent
	err := json.Unmarshal([]byte(line), &event)
	if err == nil {
		return &event, nil
	}

	var raw map[string]json.RawMessage
	if json.Unmarshal([]byte(line), &raw) != nil {
		return nil, fmt.Errorf("failed to parse stream event: %w", err)
	}
	dropped := false
	for _, f := range costFields {
		if _, ok := raw[f]; ok {
			delete(raw, f)
			dropped = true
		}
	}
	if !dropped {
		return nil, fmt.Errorf("failed to parse stream event: %w", err)
	}
	cleaned, _ := json.Marshal(raw)
	event = StreamEvent{}
	if err := json.Unmarshal(cleaned, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stream event: %w", err)
	}
	event.CostParseError = true
	return &event, nil
}

// IsInitEvent returns true if this is a system init event.
func (e *StreamEvent) IsInitEvent() bool {
	return e.Type == EventTypeSystem && e.Subtype == "init"
}

// IsResultEvent returns true if this is the terminal result event.
func (e *StreamEvent) IsResultEvent() bool {
	return e.Type == EventTypeResult
}

// IsSuccess returns true if this is a successful result event.
func (e *StreamEvent) IsSuccess() bool {
	return e.Type == EventTypeResult && e.Subtype == SubtypeSuccess && !e.IsError
}

// Cost returns the reported cost, preferring total_cost_usd.
func (e *StreamEvent) Cost() float64 {
	if e.TotalCostUSD > 0 {
		return e.TotalCostUSD
	}
	return e.CostUSD
}

// ToolUses returns all tool use blocks from an assistant message.
func (e *StreamEvent) ToolUses() []ContentBlock {
	if e.Type != EventTypeAssistant || e.Message == nil {
		return nil
	}
	var tools []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == ContentTypeToolUse {
			tools = append(tools, block)
		}
	}
	return tools
}

// Text returns concatenated text content from a message.
func (e *StreamEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	var text string
	for _, block := range e.Message.Content {
		if block.Type == ContentTypeText {
			text += block.Text
		}
	}
	return text
}

// StreamState tracks the state accumulated from parsing stream events.
type StreamState struct {
	SessionID  string
	Tools      []string
	Turns      int
	ToolCalls  int
	TextBlocks int
	Errors     int
	LastText   string
	Result     *StreamEvent
}

// Completed returns true once a result event has been seen.
func (s *StreamState) Completed() bool {
	return s.Result != nil
}

// Update processes a stream event and updates the state accordingly.
func (s *StreamState) Update(event *StreamEvent) {
	if event == nil {
		return
	}

	if event.SessionID != "" && s.SessionID == "" {
		s.SessionID = event.SessionID
	}

	switch event.Type {
	case EventTypeSystem:
		if event.IsInitEvent() {
			s.SessionID = event.SessionID
			s.Tools = event.Tools
		}

	case EventTypeAssistant:
		if event.Message != nil {
			for _, block := range event.Message.Content {
				switch block.Type {
				case ContentTypeText:
					s.TextBlocks++
					s.LastText = block.Text
				case ContentTypeToolUse:
					s.ToolCalls++
				}
			}
		}

	case EventTypeUser:
		s.Turns++
		if event.Message != nil {
			for _, block := range event.Message.Content {
				if block.Type == ContentTypeToolResult && block.IsError {
					s.Errors++
				}
			}
		}

	case EventTypeResult:
		s.Result = event
		if event.NumTurns > 0 {
			s.Turns = event.NumTurns
		}
	}
}

// StreamParser processes stream-json output line by line.
type StreamParser struct {
	state    StreamState
	callback func(*StreamEvent)
	noise    []string
}

// maxNoiseLines bounds how many non-JSON lines are kept for classification.
const maxNoiseLines = 50

// NewStreamParser creates a new parser with an optional event callback.
func NewStreamParser(callback func(*StreamEvent)) *StreamParser {
	return &StreamParser{callback: callback}
}

// ParseLine parses a line and updates internal state. Lines that are not
// stream events (stderr, tracebacks) are retained for error classification.
func (p *StreamParser) ParseLine(line string) *StreamEvent {
	event, err := ParseStreamEvent(line)
	if err != nil {
		p.noise = append(p.noise, line)
		if len(p.noise) > maxNoiseLines {
			p.noise = p.noise[len(p.noise)-maxNoiseLines:]
		}
		return nil
	}
	if event == nil {
		return nil
	}

	p.state.Update(event)

	if p.callback != nil {
		p.callback(event)
	}
	return event
}

// State returns the accumulated stream state.
func (p *StreamParser) State() *StreamState {
	return &p.state
}

// Noise returns the retained non-event output.
func (p *StreamParser) Noise() []string {
	return p.noise
}
