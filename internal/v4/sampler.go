package v4

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/state"
)

// DefaultSampleInterval is how often a Sampler polls the probe.
const DefaultSampleInterval = 5 * time.Second

// Probe reads one resource sample.
type Probe interface {
	Sample(ctx context.Context) (state.ResourceSample, error)
}

// SampleLog receives samples; *state.Store writes them to the stability log.
type SampleLog interface {
	AppendResourceSample(state.ResourceSample) error
}

// SystemProbe samples host CPU and memory usage.
type SystemProbe struct{}

// Sample implements Probe.
func (SystemProbe) Sample(ctx context.Context) (state.ResourceSample, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return state.ResourceSample{}, fmt.Errorf("cpu percent: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return state.ResourceSample{}, fmt.Errorf("virtual memory: %w", err)
	}
	s := state.ResourceSample{
		Timestamp:    time.Now().UTC(),
		MemPercent:   vm.UsedPercent,
		MemUsedBytes: vm.Used,
		Goroutines:   runtime.NumGoroutine(),
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	return s, nil
}

// ResourceStats summarises the samples taken by a Sampler.
type ResourceStats struct {
	Samples       int
	AvgCPUPercent float64
	PeakMemPct    float64
}

// Efficiency maps the stats to [0, 1]; idle machines score 1. Without
// samples it is neutral.
func (s ResourceStats) Efficiency() float64 {
	if s.Samples == 0 {
		return 0.5
	}
	cpuScore := 1 - clamp01(s.AvgCPUPercent/100)
	memScore := 1 - clamp01(s.PeakMemPct/100)
	return (cpuScore + memScore) / 2
}

// Sampler polls a Probe in the background and logs every sample.
type Sampler struct {
	probe    Probe
	sink     SampleLog
	label    string
	interval time.Duration
	log      *logging.Logger

	mu     sync.Mutex
	count  int
	cpuSum float64
	peak   float64
}

// NewSampler creates a Sampler. sink may be nil.
func NewSampler(probe Probe, sink SampleLog, label string, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		probe:    probe,
		sink:     sink,
		label:    label,
		interval: interval,
		log:      logging.With("component", "sampler").With("label", label),
	}
}

// Run samples immediately and then every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sampleOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	sample, err := s.probe.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug("resource sample failed", "error", err)
		}
		return
	}
	sample.Label = s.label

	s.mu.Lock()
	s.count++
	s.cpuSum += sample.CPUPercent
	if sample.MemPercent > s.peak {
		s.peak = sample.MemPercent
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.AppendResourceSample(sample); err != nil {
			s.log.Warn("failed to write resource sample", "error", err)
		}
	}
}

// Stats returns the summary so far.
func (s *Sampler) Stats() ResourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ResourceStats{Samples: s.count, PeakMemPct: s.peak}
	if s.count > 0 {
		st.AvgCPUPercent = s.cpuSum / float64(s.count)
	}
	return st
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
