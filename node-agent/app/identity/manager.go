package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Identity is the agent's persistent id and its latest controller token
type Identity struct {
	AgentID string `json:"agentId"`
	Token   string `json:"token,omitempty"`
}

// Manager handles identity file operations
type Manager struct {
	mu           sync.Mutex
	identityPath string
}

// NewManager creates a new identity manager
func NewManager(identityPath string) *Manager {
	return &Manager{identityPath: identityPath}
}

// Load loads identity from file. A missing file yields nil.
func (m *Manager) Load() (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// LoadOrCreate returns the stored identity, generating and saving a new agent id on first start.
// An explicit agentID overrides a generated one but never a stored one.
func (m *Manager) LoadOrCreate(agentID string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.load()
	if err != nil {
		return nil, err
	}
	if ident != nil && ident.AgentID != "" {
		return ident, nil
	}

	if agentID == "" {
		agentID = uuid.NewString()
	}
	ident = &Identity{AgentID: agentID}
	if err := m.save(ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// Save saves identity to file
func (m *Manager) Save(identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(identity)
}

// UpdateToken updates the token in identity
func (m *Manager) UpdateToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, err := m.load()
	if err != nil {
		return err
	}
	if identity == nil {
		return fmt.Errorf("identity not found")
	}

	identity.Token = token
	return m.save(identity)
}

func (m *Manager) load() (*Identity, error) {
	data, err := os.ReadFile(m.identityPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	return &identity, nil
}

func (m *Manager) save(identity *Identity) error {
	dir := filepath.Dir(m.identityPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	// write then rename so a crash never leaves a truncated identity
	tmp := m.identityPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, m.identityPath); err != nil {
		return fmt.Errorf("failed to replace identity file: %w", err)
	}
	return nil
}
