package phase

import "time"

// Default execution bounds.
const (
	DefaultTimeout        = 600 * time.Second
	DefaultFileFixTimeout = 300 * time.Second
)

// Config is the dispatch-table entry for a phase type.
type Config struct {
	Description  string
	AllowedTools []string
	MaxTurns     int
	Timeout      time.Duration
	// RequiresArtifact marks phases whose evidence file must exist for an
	// error_during_execution result to be trusted as success.
	RequiresArtifact bool
	// FileParallel marks phases that can be fixed file-by-file.
	FileParallel bool
}

var (
	readTools  = []string{"Read", "Glob", "Grep", "LS"}
	writeTools = []string{"Read", "Write", "Edit", "MultiEdit", "Glob", "Grep", "LS", "Bash"}
	webTools   = []string{"Read", "Write", "Glob", "Grep", "LS", "WebSearch", "WebFetch"}
)

var table = map[Type]Config{
	Research: {
		Description:      "Analyze requirements and existing code",
		AllowedTools:     webTools,
		MaxTurns:         30,
		Timeout:          DefaultTimeout,
		RequiresArtifact: true,
	},
	Planning: {
		Description:      "Create a detailed implementation plan",
		AllowedTools:     append(append([]string(nil), readTools...), "Write"),
		MaxTurns:         30,
		Timeout:          DefaultTimeout,
		RequiresArtifact: true,
	},
	Implement: {
		Description:      "Build the milestone functionality",
		AllowedTools:     writeTools,
		MaxTurns:         50,
		Timeout:          DefaultTimeout,
		RequiresArtifact: true,
	},
	Architecture: {
		Description:  "Review and fix code structure",
		AllowedTools: writeTools,
		MaxTurns:     30,
		Timeout:      DefaultTimeout,
	},
	Lint: {
		Description:  "Fix flake8 errors",
		AllowedTools: writeTools,
		MaxTurns:     20,
		Timeout:      DefaultTimeout,
		FileParallel: true,
	},
	Typecheck: {
		Description:  "Fix mypy errors",
		AllowedTools: writeTools,
		MaxTurns:     20,
		Timeout:      DefaultTimeout,
		FileParallel: true,
	},
	Test: {
		Description:  "Write and fix unit tests",
		AllowedTools: writeTools,
		MaxTurns:     30,
		Timeout:      DefaultTimeout,
	},
	Integration: {
		Description:  "Write and fix integration tests",
		AllowedTools: writeTools,
		MaxTurns:     30,
		Timeout:      DefaultTimeout,
	},
	E2E: {
		Description:      "Run the program end to end and record evidence",
		AllowedTools:     writeTools,
		MaxTurns:         20,
		Timeout:          DefaultTimeout,
		RequiresArtifact: true,
	},
	Validate: {
		Description:      "Confirm every success criterion is met",
		AllowedTools:     writeTools,
		MaxTurns:         20,
		Timeout:          DefaultTimeout,
		RequiresArtifact: true,
	},
	Commit: {
		Description:  "Commit the milestone",
		AllowedTools: []string{"Bash", "Read", "Write"},
		MaxTurns:     10,
		Timeout:      DefaultTimeout,
	},
}

// Lookup returns the dispatch-table entry for t. Unknown types get a
// conservative default.
func Lookup(t Type) Config {
	if c, ok := table[t]; ok {
		return c
	}
	return Config{
		Description:  string(t),
		AllowedTools: readTools,
		MaxTurns:     10,
		Timeout:      DefaultTimeout,
	}
}

// EvidenceFile returns the evidence file name for t.
func EvidenceFile(t Type) string {
	return string(t) + ".md"
}

// MarkerFile returns the completion marker file name for t.
func MarkerFile(t Type) string {
	return string(t) + ".done"
}
