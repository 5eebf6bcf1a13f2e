package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tradefabric/tradefabric/internal/log"
)

// State is the persisted strategy snapshot: tuned parameters and performance
// per strategy label.
type State struct {
	Parameters  map[string]map[string]float64 `json:"parameters"`
	Performance map[string]*Performance       `json:"performance"`
}

// NewState returns an empty snapshot.
func NewState() *State {
	return &State{
		Parameters:  make(map[string]map[string]float64),
		Performance: make(map[string]*Performance),
	}
}

// LoadState reads the snapshot at path. A missing file yields fresh
// defaults; a corrupt file is discarded with a warning rather than failing
// startup.
func LoadState(path string) *State {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied state path
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatStrat, "state file unreadable, starting fresh",
				"path", path, "error", err.Error())
		}
		return NewState()
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Warn(log.CatStrat, "state file corrupt, starting fresh",
			"path", path, "error", err.Error())
		return NewState()
	}
	if state.Parameters == nil {
		state.Parameters = make(map[string]map[string]float64)
	}
	if state.Performance == nil {
		state.Performance = make(map[string]*Performance)
	}
	return &state
}

// Save writes the snapshot atomically via a temp file rename.
func (s *State) Save(path string) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// perf returns the performance bucket for a strategy, creating it on first
// use.
func (s *State) perf(strategy string) *Performance {
	p, ok := s.Performance[strategy]
	if !ok {
		p = &Performance{}
		s.Performance[strategy] = p
	}
	return p
}

// params returns the parameter map for a strategy, creating it on first use.
func (s *State) params(strategy string) map[string]float64 {
	m, ok := s.Parameters[strategy]
	if !ok {
		m = make(map[string]float64)
		s.Parameters[strategy] = m
	}
	return m
}
