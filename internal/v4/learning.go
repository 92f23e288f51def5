package v4

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/config"
	"gopkg.in/yaml.v3"
)

// DemoteAfter is the number of consecutive failures after which a strategy
// is demoted for a project type.
const DemoteAfter = 2

// LearningPath returns the learning file path for a project.
func LearningPath(basePath string) string {
	return filepath.Join(basePath, config.DirName, "v4_learning.yaml")
}

// StrategyRecord is the learned track record of one strategy.
type StrategyRecord struct {
	Successes           int       `yaml:"successes"`
	Failures            int       `yaml:"failures"`
	ConsecutiveFailures int       `yaml:"consecutive_failures"`
	LastUsed            time.Time `yaml:"last_used"`
}

// learningFile is the on-disk layout of v4_learning.yaml.
type learningFile struct {
	Projects map[string]map[Strategy]*StrategyRecord `yaml:"projects"`
}

// LearningStore persists strategy outcomes per project type.
type LearningStore struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	data learningFile
}

// OpenLearningStore loads the learning file at path. A missing file yields
// an empty store.
func OpenLearningStore(path string) (*LearningStore, error) {
	s := &LearningStore{
		path: path,
		now:  time.Now,
		data: learningFile{Projects: make(map[string]map[Strategy]*StrategyRecord)},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read learning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse learning file: %w", err)
	}
	if s.data.Projects == nil {
		s.data.Projects = make(map[string]map[Strategy]*StrategyRecord)
	}
	return s, nil
}

// Record stores the outcome of running strategy on a project type and
// writes the file.
func (s *LearningStore) Record(projectType string, strategy Strategy, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStrategy := s.data.Projects[projectType]
	if byStrategy == nil {
		byStrategy = make(map[Strategy]*StrategyRecord)
		s.data.Projects[projectType] = byStrategy
	}
	rec := byStrategy[strategy]
	if rec == nil {
		rec = &StrategyRecord{}
		byStrategy[strategy] = rec
	}
	rec.LastUsed = s.now().UTC()
	if success {
		rec.Successes++
		rec.ConsecutiveFailures = 0
	} else {
		rec.Failures++
		rec.ConsecutiveFailures++
	}
	return s.save()
}

// Get returns a copy of the record for strategy, if any.
func (s *LearningStore) Get(projectType string, strategy Strategy) (StrategyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.data.Projects[projectType][strategy]
	if rec == nil {
		return StrategyRecord{}, false
	}
	return *rec, true
}

// Demoted reports whether strategy failed DemoteAfter times in a row for
// the project type.
func (s *LearningStore) Demoted(projectType string, strategy Strategy) bool {
	rec, ok := s.Get(projectType, strategy)
	return ok && rec.ConsecutiveFailures >= DemoteAfter
}

func (s *LearningStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create learning directory: %w", err)
	}
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal learning data: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write learning file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
