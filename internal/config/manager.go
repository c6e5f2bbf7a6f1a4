package config

import "sync"

// Manager holds a hot-reloadable Config behind a RWMutex, mirroring the
// reference daemon's ConfigManager usage by its scheduler/health loops.
type Manager struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// NewManager loads path once and returns a Manager wrapping the result.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the config file from disk and swaps it in atomically.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}
