package testutil

import (
	"time"

	"github.com/thruflo/cc-automator/internal/state"
)

// SampleSpec is a CLAUDE.md with two milestones.
const SampleSpec = `# Calculator

A command line calculator written in Python.

## Milestones

### Milestone 1: Core arithmetic
- main.py prints the result of 2 + 2
- Division by zero prints an error and exits with code 1

### Milestone 2: History
- The last 10 results are shown with the "history" command
`

// SampleFlake8Output has two F-codes in different files and one style
// warning that is ignored.
const SampleFlake8Output = `./src/calc.py:3:1: F401 'os' imported but unused
./src/calc.py:12:5: E303 too many blank lines (3)
src/history.py:7:9: F821 undefined name 'results'
`

// SampleMypyOutput has two errors in one file.
const SampleMypyOutput = `src/calc.py:10: error: Incompatible return value type (got "str", expected "int")  [return-value]
src/calc.py:21:5: error: Argument 1 to "divide" has incompatible type "str"; expected "float"  [arg-type]
Found 2 errors in 1 file (checked 3 source files)
`

// SamplePytestPassed is a passing pytest summary.
const SamplePytestPassed = `============================= test session starts ==============================
collected 3 items

tests/unit/test_calc.py ...                                              [100%]

============================== 3 passed in 0.04s ===============================
`

// SamplePytestFailed has one failing test.
const SamplePytestFailed = `FAILED tests/unit/test_calc.py::test_divide_by_zero - ZeroDivisionError: division by zero
========================= 1 failed, 2 passed in 0.06s ==========================
`

// SampleTranscript is a stream-json transcript of a successful phase.
const SampleTranscript = `{"type":"system","subtype":"init","session_id":"sess-1","tools":["Read","Write","Bash"]}
{"type":"assistant","session_id":"sess-1","message":{"content":[{"type":"text","text":"Writing the calculator."},{"type":"tool_use","id":"tu-1","name":"Write","input":{"file_path":"main.py"}}]}}
{"type":"user","session_id":"sess-1","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"ok"}]}}
{"type":"result","subtype":"success","session_id":"sess-1","is_error":false,"total_cost_usd":0.042,"duration_ms":5120,"num_turns":2,"result":"Done"}
`

// SampleFailures returns failure records for milestone 1: two architecture
// failures and a repeated lint error. Returns a new slice each time.
func SampleFailures() []state.Failure {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []state.Failure{
		{Milestone: 1, Phase: "architecture", ErrorType: "execution", Message: "3 architecture violations", Attempt: 1, Timestamp: at},
		{Milestone: 1, Phase: "architecture", ErrorType: "execution", Message: "2 architecture violations", Attempt: 2, Timestamp: at.Add(time.Minute)},
		{Milestone: 1, Phase: "lint", ErrorType: "execution", Message: "flake8 reported 1 errors", Attempt: 1, Timestamp: at.Add(2 * time.Minute)},
		{Milestone: 1, Phase: "lint", ErrorType: "execution", Message: "flake8 reported 1 errors", Attempt: 2, Timestamp: at.Add(3 * time.Minute)},
	}
}
