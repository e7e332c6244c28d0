package llm

import (
	"fmt"
	"sync"

	"github.com/mlecarme/spendsort/internal/common"
)

// NewBackend constructs the backend named by cfg.Provider.
func NewBackend(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case "ollama", "":
		return newOllamaBackend(cfg)
	case "openai":
		return newOpenAIBackend(cfg)
	case "anthropic":
		return newAnthropicBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}
}

// Selector holds the currently selected backend and allows swapping it at
// runtime. Reads take a shared lock so classification calls in flight never
// observe a half-swapped backend.
type Selector struct {
	mu      sync.RWMutex
	current Backend
}

// NewSelector returns a selector with backend as the initial choice.
// A nil backend is allowed; Current then reports no backend selected.
func NewSelector(backend Backend) *Selector {
	return &Selector{current: backend}
}

// Current returns the selected backend, or an error when none is configured.
func (s *Selector) Current() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, fmt.Errorf("no LLM backend selected")
	}
	return s.current, nil
}

// Select swaps the active backend.
func (s *Selector) Select(backend Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = backend
}

// SelectProvider builds a backend from cfg and makes it current.
func (s *Selector) SelectProvider(cfg Config) error {
	backend, err := NewBackend(cfg)
	if err != nil {
		return err
	}
	s.Select(backend)
	return nil
}
