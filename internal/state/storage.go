package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/config"
)

// DirName is the per-project state directory.
const DirName = config.DirName

// Store handles the persisted .cc_automator/ tree of a project.
type Store struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a new Store with the given base path.
// The base path should be the project root; state is stored in .cc_automator/.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// ProjectDir returns the project root.
func (s *Store) ProjectDir() string {
	return s.basePath
}

// Root returns the path to the .cc_automator directory.
func (s *Store) Root() string {
	return filepath.Join(s.basePath, DirName)
}

// MilestoneDir returns the evidence directory for milestone n.
func (s *Store) MilestoneDir(n int) string {
	return filepath.Join(s.Root(), "milestones", fmt.Sprintf("milestone_%d", n))
}

// EvidencePath returns the evidence file path for a phase of milestone n.
func (s *Store) EvidencePath(n int, phase string) string {
	return filepath.Join(s.MilestoneDir(n), phase+".md")
}

// MarkerPath returns the completion marker path for a phase of milestone n.
func (s *Store) MarkerPath(n int, phase string) string {
	return filepath.Join(s.MilestoneDir(n), phase+".done")
}

// PhaseOutputPath returns where the raw agent transcript of an attempt is kept.
func (s *Store) PhaseOutputPath(n int, phase string, attempt int) string {
	return filepath.Join(s.Root(), "phase_outputs",
		fmt.Sprintf("milestone_%d_%s_attempt_%d.jsonl", n, phase, attempt))
}

// MetricsPath returns the Prometheus textfile path.
func (s *Store) MetricsPath() string {
	return filepath.Join(s.Root(), "metrics.prom")
}

func (s *Store) progressPath() string { return filepath.Join(s.Root(), "progress.json") }
func (s *Store) sessionsPath() string { return filepath.Join(s.Root(), "sessions.json") }
func (s *Store) resultsPath() string  { return filepath.Join(s.Root(), "results.json") }
func (s *Store) reportPath() string   { return filepath.Join(s.Root(), "report.md") }
func (s *Store) failuresPath() string {
	return filepath.Join(s.Root(), "failure_logs", "failures.jsonl")
}
func (s *Store) stabilityPath() string {
	return filepath.Join(s.Root(), "stability_logs", "resource_metrics.jsonl")
}
func (s *Store) checkpointDir(n int) string {
	return filepath.Join(s.Root(), "checkpoints", fmt.Sprintf("milestone_%d", n))
}

// EnsureLayout creates the directory skeleton.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{
		s.Root(),
		filepath.Join(s.Root(), "milestones"),
		filepath.Join(s.Root(), "checkpoints"),
		filepath.Join(s.Root(), "phase_outputs"),
		filepath.Join(s.Root(), "failure_logs"),
		filepath.Join(s.Root(), "stability_logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON returns false when the file does not exist.
func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func (s *Store) appendJSONL(path string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue // Skip torn lines from an interrupted write
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// SaveProgress writes progress.json.
func (s *Store) SaveProgress(p *Progress) error {
	p.UpdatedAt = time.Now()
	return writeJSON(s.progressPath(), p)
}

// LoadProgress reads progress.json. Returns nil without error if absent.
func (s *Store) LoadProgress() (*Progress, error) {
	var p Progress
	ok, err := readJSON(s.progressPath(), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// LoadSessions reads sessions.json.
func (s *Store) LoadSessions() ([]Session, error) {
	var sessions []Session
	if _, err := readJSON(s.sessionsPath(), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// AppendSession adds an agent session to sessions.json.
func (s *Store) AppendSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.LoadSessions()
	if err != nil {
		return err
	}
	sessions = append(sessions, sess)
	return writeJSON(s.sessionsPath(), sessions)
}

// SaveCheckpoint writes checkpoints/milestone_N/<phase>_checkpoint.json.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	path := filepath.Join(s.checkpointDir(cp.Milestone), cp.Phase+"_checkpoint.json")
	return writeJSON(path, cp)
}

// LoadCheckpoint reads a phase checkpoint. Returns nil without error if absent.
func (s *Store) LoadCheckpoint(milestone int, phase string) (*Checkpoint, error) {
	var cp Checkpoint
	path := filepath.Join(s.checkpointDir(milestone), phase+"_checkpoint.json")
	ok, err := readJSON(path, &cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// ClearCheckpoint removes a phase checkpoint, used when a step-back
// invalidates later phases.
func (s *Store) ClearCheckpoint(milestone int, phase string) error {
	path := filepath.Join(s.checkpointDir(milestone), phase+"_checkpoint.json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// AppendFailure appends to failure_logs/failures.jsonl.
func (s *Store) AppendFailure(f Failure) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	return s.appendJSONL(s.failuresPath(), f)
}

// LoadFailures reads all recorded failures.
func (s *Store) LoadFailures() ([]Failure, error) {
	return readJSONL[Failure](s.failuresPath())
}

// AppendResourceSample appends to stability_logs/resource_metrics.jsonl.
func (s *Store) AppendResourceSample(r ResourceSample) error {
	return s.appendJSONL(s.stabilityPath(), r)
}

// LoadResourceSamples reads all recorded resource samples.
func (s *Store) LoadResourceSamples() ([]ResourceSample, error) {
	return readJSONL[ResourceSample](s.stabilityPath())
}

// SaveResults writes results.json.
func (s *Store) SaveResults(r *Results) error {
	return writeJSON(s.resultsPath(), r)
}

// LoadResults reads results.json. Returns nil without error if absent.
func (s *Store) LoadResults() (*Results, error) {
	var r Results
	ok, err := readJSON(s.resultsPath(), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// WriteReport writes report.md.
func (s *Store) WriteReport(markdown string) error {
	if err := os.MkdirAll(s.Root(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(s.reportPath(), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadEvidence returns the evidence file contents for a phase, or "" if the
// file does not exist.
func (s *Store) ReadEvidence(n int, phase string) (string, error) {
	data, err := os.ReadFile(s.EvidencePath(n, phase))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read evidence: %w", err)
	}
	return string(data), nil
}

// PrepareMilestone creates the milestone evidence directory and removes a
// stale completion marker for phase.
func (s *Store) PrepareMilestone(n int, phase string) error {
	if err := os.MkdirAll(s.MilestoneDir(n), 0o755); err != nil {
		return fmt.Errorf("failed to create milestone directory: %w", err)
	}
	if err := os.Remove(s.MarkerPath(n, phase)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale marker: %w", err)
	}
	return nil
}
