// Package stress drives adversarial workloads against the rendezvous
// primitives and checks their invariants under real concurrency. Each
// scenario reports the operations it performed and any invariant
// violations it observed; a clean run reports zero violations.
package stress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProfileFileName is discovered by walking up from the start directory.
const ProfileFileName = "rendez.toml"

// Fallbacks for scenarios that leave ops or workers unset.
const (
	defaultScenarioOps     = 1000
	defaultScenarioWorkers = 4
)

// Profile configures a stress run.
type Profile struct {
	Jobs      int              `toml:"jobs"` // concurrent scenarios (0 = all)
	Seed      int64            `toml:"seed"` // deterministic scheduling seed
	Scenarios []ScenarioConfig `toml:"scenario"`
}

// ScenarioConfig configures one named scenario.
type ScenarioConfig struct {
	Name    string `toml:"name"`
	Ops     int    `toml:"ops"`
	Workers int    `toml:"workers"`
}

// DefaultProfile returns the profile used when no rendez.toml is found.
func DefaultProfile() *Profile {
	return &Profile{
		Jobs: 2,
		Seed: 1,
		Scenarios: []ScenarioConfig{
			{Name: "cancel", Ops: 4000, Workers: 8},
			{Name: "admission", Ops: 4000, Workers: 8},
			{Name: "fifo", Ops: 8000, Workers: 8},
			{Name: "churn", Ops: 2000, Workers: 8},
		},
	}
}

// FindProfile walks up from startDir looking for rendez.toml.
func FindProfile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ProfileFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// LoadProfile reads a profile file, filling unset fields from defaults.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	def := DefaultProfile()
	if p.Jobs <= 0 {
		p.Jobs = def.Jobs
	}
	if p.Seed == 0 {
		p.Seed = def.Seed
	}
	if len(p.Scenarios) == 0 {
		p.Scenarios = def.Scenarios
	}
	for i := range p.Scenarios {
		if p.Scenarios[i].Ops <= 0 {
			p.Scenarios[i].Ops = defaultScenarioOps
		}
		if p.Scenarios[i].Workers <= 0 {
			p.Scenarios[i].Workers = defaultScenarioWorkers
		}
	}
	return &p, nil
}
