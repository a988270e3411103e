package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ComposeFileName is the compose file written for every deployed stack
const ComposeFileName = "docker-compose.yml"

var stackIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

// FSStore writes stack definitions under a base directory, one directory per stack
type FSStore struct {
	basePath string
}

// NewFSStore creates a new file system store
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{basePath: basePath}, nil
}

// StackDir returns the directory of stackID, rejecting ids that could escape the base directory
func (s *FSStore) StackDir(stackID string) (string, error) {
	if !stackIDPattern.MatchString(stackID) || stackID == "." || stackID == ".." {
		return "", fmt.Errorf("invalid stack id %q", stackID)
	}
	return filepath.Join(s.basePath, stackID), nil
}

// WriteStack writes the compose file and, when non-empty, the .env file. It returns the compose file path.
func (s *FSStore) WriteStack(stackID, composeContent, envContent string) (string, error) {
	dir, err := s.StackDir(stackID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create stack directory: %w", err)
	}

	composePath := filepath.Join(dir, ComposeFileName)
	if err := writeFileAtomic(composePath, []byte(composeContent), 0644); err != nil {
		return "", err
	}

	envPath := filepath.Join(dir, ".env")
	if envContent != "" {
		if err := writeFileAtomic(envPath, []byte(envContent), 0600); err != nil {
			return "", err
		}
	} else if err := os.Remove(envPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale env file: %w", err)
	}
	return composePath, nil
}

// Exists checks if a stack has been written
func (s *FSStore) Exists(stackID string) bool {
	dir, err := s.StackDir(stackID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, ComposeFileName))
	return err == nil
}

// Delete removes a stack directory
func (s *FSStore) Delete(stackID string) error {
	dir, err := s.StackDir(stackID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
