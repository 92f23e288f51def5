package v4

import (
	"regexp"
	"sort"
	"strings"

	"github.com/thruflo/cc-automator/internal/milestone"
	"github.com/thruflo/cc-automator/internal/phase"
	"github.com/thruflo/cc-automator/internal/state"
)

// Project types recognised by the ContextAnalyzer.
const (
	ProjectWebAPI         = "web_api"
	ProjectCLI            = "cli_tool"
	ProjectDataProcessing = "data_processing"
	ProjectMachineLearn   = "machine_learning"
	ProjectLibrary        = "library"
	ProjectGeneral        = "general"
)

// ProjectContext describes the project and milestone a strategy is chosen for.
type ProjectContext struct {
	ProjectType              string   `json:"project_type"`
	ComplexityScore          float64  `json:"complexity_score"`
	TechnologyStack          []string `json:"technology_stack"`
	RequirementClarity       float64  `json:"requirement_clarity"`
	CriteriaCount            int      `json:"criteria_count"`
	PastArchitectureFailures int      `json:"past_architecture_failures"`
	HasExternalDeps          bool     `json:"has_external_deps"`
}

// projectTypes is checked in order; the first type with a keyword hit wins.
var projectTypes = []struct {
	name     string
	keywords []string
}{
	{ProjectWebAPI, []string{"fastapi", "flask", "django", "rest api", "endpoint", "http server", "web app"}},
	{ProjectMachineLearn, []string{"machine learning", "sklearn", "scikit", "tensorflow", "pytorch", "train a model", "neural"}},
	{ProjectDataProcessing, []string{"pandas", "csv", "dataframe", "etl", "data pipeline", "financial data", "time series"}},
	{ProjectCLI, []string{"command line", "command-line", "cli", "argparse", "click", "interactive", "main.py"}},
	{ProjectLibrary, []string{"library", "package", "sdk", "module api"}},
}

// stackKeywords maps a mention in the spec to a technology name.
var stackKeywords = map[string]string{
	"python":     "python",
	"fastapi":    "fastapi",
	"flask":      "flask",
	"django":     "django",
	"pandas":     "pandas",
	"numpy":      "numpy",
	"sqlalchemy": "sqlalchemy",
	"sqlite":     "sqlite",
	"postgres":   "postgresql",
	"redis":      "redis",
	"docker":     "docker",
	"pytest":     "pytest",
	"click":      "click",
	"requests":   "requests",
	"yfinance":   "yfinance",
	"pydantic":   "pydantic",
	"asyncio":    "asyncio",
}

// externalStack are technologies that talk to something outside the process.
var externalStack = map[string]bool{
	"postgresql": true, "redis": true, "requests": true, "yfinance": true, "docker": true,
}

var (
	externalRe   = regexp.MustCompile(`(?i)\b(api key|http|https|external api|web service|database server)\b`)
	measurableRe = regexp.MustCompile(`(?i)(\d|\bmust\b|\bshould\b|\breturns?\b|\bprints?\b|\bexits?\b|\braises?\b|\bdisplays?\b|\bstores?\b|\bvalidates?\b)`)
)

// ContextAnalyzer derives a ProjectContext from the spec text.
type ContextAnalyzer struct{}

// NewContextAnalyzer creates a ContextAnalyzer.
func NewContextAnalyzer() *ContextAnalyzer {
	return &ContextAnalyzer{}
}

// Analyze scores ms within the project spec. history is the failure log of
// previous attempts, across milestones and runs.
func (a *ContextAnalyzer) Analyze(spec string, ms milestone.Milestone, history []state.Failure) ProjectContext {
	text := strings.ToLower(spec + "\n" + ms.Name + "\n" + ms.Description + "\n" + strings.Join(ms.SuccessCriteria, "\n"))

	pc := ProjectContext{
		ProjectType:     detectProjectType(text),
		TechnologyStack: detectStack(text),
		CriteriaCount:   len(ms.SuccessCriteria),
	}
	for _, f := range history {
		if f.Phase == string(phase.Architecture) {
			pc.PastArchitectureFailures++
		}
	}
	pc.HasExternalDeps = externalRe.MatchString(text)
	for _, tech := range pc.TechnologyStack {
		if externalStack[tech] {
			pc.HasExternalDeps = true
		}
	}
	pc.ComplexityScore = complexity(ms, pc)
	pc.RequirementClarity = clarity(ms)
	return pc
}

func detectProjectType(text string) string {
	for _, pt := range projectTypes {
		for _, kw := range pt.keywords {
			if containsWord(text, kw) {
				return pt.name
			}
		}
	}
	return ProjectGeneral
}

func detectStack(text string) []string {
	seen := make(map[string]bool)
	for kw, tech := range stackKeywords {
		if containsWord(text, kw) {
			seen[tech] = true
		}
	}
	stack := make([]string, 0, len(seen))
	for tech := range seen {
		stack = append(stack, tech)
	}
	sort.Strings(stack)
	return stack
}

// containsWord matches kw on word boundaries so "cli" does not hit "click".
func containsWord(text, kw string) bool {
	for from := 0; ; {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(kw)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// complexity blends criteria count, stack breadth, description length and
// external dependencies into [0, 1].
func complexity(ms milestone.Milestone, pc ProjectContext) float64 {
	words := len(strings.Fields(ms.Description)) + len(strings.Fields(strings.Join(ms.SuccessCriteria, " ")))
	score := 0.35*ratio(float64(pc.CriteriaCount), 10) +
		0.25*ratio(float64(len(pc.TechnologyStack)), 6) +
		0.25*ratio(float64(words), 300)
	if pc.HasExternalDeps {
		score += 0.15
	}
	return round2(score)
}

// clarity is high when there are several criteria and most of them state
// something checkable.
func clarity(ms milestone.Milestone) float64 {
	n := len(ms.SuccessCriteria)
	if n == 0 {
		return 0.3
	}
	measurable := 0
	for _, c := range ms.SuccessCriteria {
		if measurableRe.MatchString(c) {
			measurable++
		}
	}
	return round2(0.6*float64(measurable)/float64(n) + 0.4*ratio(float64(n), 5))
}

func ratio(v, full float64) float64 {
	if v >= full {
		return 1
	}
	if v <= 0 {
		return 0
	}
	return v / full
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
