package pycheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flake8Output = `./src/app.py:3:1: F401 'os' imported but unused
./src/app.py:10:5: F841 local variable 'x' is assigned to but never used
src/util.py:1:80: E501 line too long (88 > 79 characters)
src/util.py:7:1: F811 redefinition of unused 'load' from line 2
`

const mypyOutput = `src/app.py:12: error: Incompatible return value type (got "str", expected "int")  [return-value]
src/util.py:4:9: error: Name "foo" is not defined  [name-defined]
src/util.py:5: note: See https://mypy.readthedocs.io
Found 2 errors in 2 files (checked 3 source files)
`

func TestParseFlake8(t *testing.T) {
	t.Parallel()

	issues := ParseFlake8(flake8Output)
	require.Len(t, issues, 3, "E-codes are ignored")
	assert.Equal(t, Issue{File: "src/app.py", Line: 3, Column: 1, Code: "F401", Message: "'os' imported but unused"}, issues[0])
	assert.Equal(t, 5, issues[1].Column)
	assert.Equal(t, "src/util.py:7", issues[2].Location())
	assert.Empty(t, ParseFlake8(""))
}

func TestParseMypy(t *testing.T) {
	t.Parallel()

	issues := ParseMypy(mypyOutput)
	require.Len(t, issues, 2)
	assert.Equal(t, "src/app.py", issues[0].File)
	assert.Equal(t, 12, issues[0].Line)
	assert.Equal(t, 0, issues[0].Column)
	assert.Equal(t, 4, issues[1].Line)
	assert.Equal(t, 9, issues[1].Column)
	assert.Contains(t, issues[1].Message, `Name "foo" is not defined`)
	assert.Empty(t, ParseMypy("Success: no issues found in 3 source files"))
}

func TestGroupByFile(t *testing.T) {
	t.Parallel()

	groups := GroupByFile([]Issue{
		{File: "b.py", Line: 9},
		{File: "a.py", Line: 5},
		{File: "b.py", Line: 2},
	})
	assert.Equal(t, []string{"a.py", "b.py"}, Files(groups))
	require.Len(t, groups["b.py"], 2)
	assert.Equal(t, 2, groups["b.py"][0].Line)
}

func TestParsePytest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   PytestSummary
		ok     bool
	}{
		{
			name:   "all passed",
			output: "collected 4 items\n\ntests/unit/test_a.py ....\n\n==== 4 passed in 0.12s ====\n",
			want:   PytestSummary{Passed: 4, Found: true},
			ok:     true,
		},
		{
			name:   "failures",
			output: "FAILED tests/unit/test_a.py::test_sum - assert 1 == 2\n==== 1 failed, 3 passed, 1 warning in 0.2s ====\n",
			want: PytestSummary{Passed: 3, Failed: 1, Found: true, Failing: []Issue{
				{File: "tests/unit/test_a.py", Code: "test_sum", Message: "assert 1 == 2"},
			}},
		},
		{
			name:   "collection errors",
			output: "ERROR tests/unit/test_b.py\n==== 2 errors in 0.1s ====\n",
			want:   PytestSummary{Errors: 2, Found: true, Failing: []Issue{{File: "tests/unit/test_b.py"}}},
		},
		{
			name:   "no tests ran",
			output: "==== no tests ran in 0.01s ====\n",
			want:   PytestSummary{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePytest(tt.output)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, got.OK())
		})
	}
}

func TestExecRunner(t *testing.T) {
	t.Parallel()

	r := NewExecRunner(5 * time.Second)
	out, err := r.Run(context.Background(), t.TempDir(), "hello\n", "sh", "-c", "cat; exit 2")
	require.NoError(t, err)
	assert.Equal(t, 2, out.ExitCode)
	assert.Equal(t, "hello\n", out.Text)
	assert.False(t, out.OK())

	_, err = r.Run(context.Background(), "", "", "definitely-not-a-binary-xyz")
	assert.Error(t, err)

	slow := NewExecRunner(50 * time.Millisecond)
	out, err = slow.Run(context.Background(), "", "", "sleep", "5")
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
}
