package linkdb

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Manager hands out one Store per logical namespace, opening each lazily on
// first use. Handles are guarded by a mutex rather than living in package
// state.
type Manager struct {
	root   string
	logger *log.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a manager rooted at the given directory; each
// namespace becomes a subdirectory with its own database.
func NewManager(root string, logger *log.Logger) *Manager {
	return &Manager{
		root:   root,
		logger: logger,
		stores: make(map[string]*Store),
	}
}

// Get returns the namespace's store, opening it on first use.
func (m *Manager) Get(namespace string) (*Store, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[namespace]; ok {
		return store, nil
	}

	store, err := Open(filepath.Join(m.root, namespace), m.logger)
	if err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("opened link graph namespace", "namespace", namespace)
	}
	m.stores[namespace] = store
	return store, nil
}

// Close closes every open store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, store := range m.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close namespace %s: %w", name, err)
		}
		delete(m.stores, name)
	}
	return firstErr
}

func validateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("empty namespace")
	}
	if strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return fmt.Errorf("invalid namespace %q", namespace)
	}
	return nil
}
