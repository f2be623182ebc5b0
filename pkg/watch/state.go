package watch

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "watch_state.json"

// SiteState is the outcome of a site's last scheduled run
type SiteState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	RunID          string    `json:"run_id,omitempty"`
	CardsSeen      int       `json:"cards_seen"`
	ArticlesStored int       `json:"articles_stored"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState is the document stored in watch_state.json
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager keeps per-site run history in the state directory
type StateManager struct {
	stateDir  string
	statePath string
	now       func() time.Time

	mu    sync.RWMutex
	state WatchState
}

// NewStateManager creates a state manager for stateDir. Call Load to read existing state.
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		now:       time.Now,
		state:     WatchState{Sites: make(map[string]SiteState)},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string { return m.statePath }

// Load reads the state file. A missing file leaves the state empty.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		m.state = WatchState{Sites: make(map[string]SiteState)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state WatchState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", m.statePath, err)
	}
	if state.Sites == nil {
		state.Sites = make(map[string]SiteState)
	}
	m.state = state
	return nil
}

// Save writes the state file through a temp file and rename
func (m *StateManager) Save() error {
	m.mu.Lock()
	m.state.UpdatedAt = m.now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// Record stores the outcome of a run that finished now
func (m *StateManager) Record(siteKey string, state SiteState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.LastRunTime.IsZero() {
		state.LastRunTime = m.now()
	}
	m.state.Sites[siteKey] = state
}

// ShouldRun reports whether interval has passed since the site last ran.
// A site that never ran is always due.
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return m.now().Sub(state.LastRunTime) >= interval
}

// NextRunTime returns when the site is next due; now if it never ran
func (m *StateManager) NextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return m.now()
	}
	return state.LastRunTime.Add(interval)
}

// Sites returns a copy of every recorded site state
func (m *StateManager) Sites() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.state.Sites)
}
