package v4

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/cc-automator/internal/state"
)

type fakeProbe struct {
	mu    sync.Mutex
	cpu   []float64
	mem   float64
	calls int
	err   error
}

func (p *fakeProbe) Sample(context.Context) (state.ResourceSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return state.ResourceSample{}, p.err
	}
	cpu := 10.0
	if len(p.cpu) > 0 {
		cpu = p.cpu[p.calls%len(p.cpu)]
	}
	p.calls++
	return state.ResourceSample{Timestamp: time.Now(), CPUPercent: cpu, MemPercent: p.mem + float64(p.calls)}, nil
}

type sampleSink struct {
	mu      sync.Mutex
	samples []state.ResourceSample
}

func (s *sampleSink) AppendResourceSample(r state.ResourceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, r)
	return nil
}

func (s *sampleSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestSampler_RecordsUntilCancelled(t *testing.T) {
	probe := &fakeProbe{cpu: []float64{20, 40}, mem: 30}
	sink := &sampleSink{}
	s := NewSampler(probe, sink, "branch", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	require.Eventually(t, func() bool { return sink.len() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	st := s.Stats()
	assert.Equal(t, sink.len(), st.Samples)
	assert.InDelta(t, 30, st.AvgCPUPercent, 10)
	assert.Greater(t, st.PeakMemPct, 30.0)
	sink.mu.Lock()
	assert.Equal(t, "branch", sink.samples[0].Label)
	sink.mu.Unlock()
}

func TestSampler_ProbeErrorsAreSkipped(t *testing.T) {
	s := NewSampler(&fakeProbe{err: errors.New("no procfs")}, nil, "x", time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	assert.Zero(t, s.Stats().Samples)
	assert.Equal(t, 0.5, s.Stats().Efficiency())
}

func TestResourceStats_Efficiency(t *testing.T) {
	assert.Equal(t, 1.0, ResourceStats{Samples: 1}.Efficiency())
	assert.InDelta(t, 0.5, ResourceStats{Samples: 3, AvgCPUPercent: 50, PeakMemPct: 50}.Efficiency(), 0.0001)
	assert.Equal(t, 0.0, ResourceStats{Samples: 3, AvgCPUPercent: 150, PeakMemPct: 100}.Efficiency())
}
