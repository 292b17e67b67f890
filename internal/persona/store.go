package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// SavePolicy controls persona snapshot cadence: a snapshot is due when the
// interval has elapsed since the last save, or once enough changes pile up,
// whichever comes first.
type SavePolicy struct {
	Interval   time.Duration
	MaxChanges int
}

// ShouldSave reports whether a snapshot is due under the policy.
func (p *Persona) ShouldSave(policy SavePolicy, now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.changesSinceSave == 0 {
		return false
	}
	if policy.MaxChanges > 0 && p.changesSinceSave >= policy.MaxChanges {
		return true
	}
	return policy.Interval > 0 && now.Sub(p.lastSave) >= policy.Interval
}

// Save writes the persona snapshot as JSON, atomically via a temp file.
func (p *Persona) Save(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.copyStateLocked()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create persona dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write persona snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace persona snapshot: %w", err)
	}

	p.changesSinceSave = 0
	p.lastSave = time.Now()
	p.logger.Debug("persona snapshot saved", zap.String("path", path))
	return nil
}

// Load restores a persona from a JSON snapshot. A missing file is not an
// error: the persona keeps its configured defaults.
func (p *Persona) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read persona snapshot: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse persona snapshot: %w", err)
	}
	if state.Traits == nil {
		state.Traits = map[string]float64{}
	}
	for k, v := range state.Traits {
		state.Traits[k] = clamp(v)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Keep configured traits that the snapshot predates.
	for k, v := range p.state.Traits {
		if _, ok := state.Traits[k]; !ok {
			state.Traits[k] = v
		}
	}
	if state.Name == "" {
		state.Name = p.state.Name
	}
	p.state = state
	p.changesSinceSave = 0
	p.lastSave = time.Now()
	return nil
}
