package testutil

import (
	"context"
	"testing"
	"time"
)

const (
	// DefaultPipelineTimeout bounds a pipeline run driven by a scripted agent.
	DefaultPipelineTimeout = 2 * time.Minute

	// DefaultAgentTimeout bounds a single run of the real agent CLI.
	DefaultAgentTimeout = 5 * time.Minute

	// deadlineSlack is left between the context deadline and the test
	// deadline so results.json can still be written and asserted on.
	deadlineSlack = 10 * time.Second
)

// PipelineContext returns a context for orchestrator.Pipeline.Run. It ends
// before the go test deadline when one is set, otherwise after
// DefaultPipelineTimeout.
func PipelineContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return boundedContext(t, DefaultPipelineTimeout)
}

// AgentExecutionContext returns a context for one real agent run.
func AgentExecutionContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return boundedContext(t, DefaultAgentTimeout)
}

func boundedContext(t *testing.T, limit time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	deadline := time.Now().Add(limit)
	if testDeadline, ok := t.Deadline(); ok {
		if d := testDeadline.Add(-deadlineSlack); d.Before(deadline) && time.Until(d) > 0 {
			deadline = d
		}
	}
	return context.WithDeadline(context.Background(), deadline)
}
