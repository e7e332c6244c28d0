// Package engine orchestrates the classification pipeline: label parsing,
// embedding, clustering, the suggestion waterfall, and the proposal state
// machine. Each public method is one request-scoped unit of work.
package engine

import (
	"log/slog"
	"sync"

	"github.com/mlecarme/spendsort/internal/embedding"
	"github.com/mlecarme/spendsort/internal/rules"
	"github.com/mlecarme/spendsort/internal/service"
	"github.com/mlecarme/spendsort/internal/suggest"
)

// Config carries the clustering tunables of the pipeline.
type Config struct {
	// DistanceThreshold stops agglomerative merging; clusters looser than
	// this are never formed.
	DistanceThreshold float64

	// MinClusterSize relabels smaller groups as unclustered noise.
	MinClusterSize int

	// SampleSize caps the denormalized snapshots shown per cluster.
	SampleSize int
}

// DefaultConfig mirrors the shipped pipeline defaults.
func DefaultConfig() Config {
	return Config{
		DistanceThreshold: 0.22,
		MinClusterSize:    2,
		SampleSize:        5,
	}
}

// Engine wires storage, the embedding provider, the suggestion waterfall
// and the rule engine into the classification unit-of-work methods.
type Engine struct {
	storage   service.Storage
	provider  embedding.Provider
	embedCfg  embedding.Config
	suggester *suggest.Engine
	rules     *rules.Engine
	cfg       Config
	logger    *slog.Logger
	locks     scopeLocks
}

func New(storage service.Storage, provider embedding.Provider, embedCfg embedding.Config, suggester *suggest.Engine, ruleEngine *rules.Engine, cfg Config, logger *slog.Logger) *Engine {
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = 0.22
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 2
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		storage:   storage,
		provider:  provider,
		embedCfg:  embedCfg,
		suggester: suggester,
		rules:     ruleEngine,
		cfg:       cfg,
		logger:    logger,
	}
}

// Rules exposes the rule engine for the fast path.
func (e *Engine) Rules() *rules.Engine {
	return e.rules
}

// scopeLocks serializes recomputes per (user, account) so two concurrent
// recalculations cannot both delete-and-replace the same proposal.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[service.Scope]*sync.Mutex
}

func (s *scopeLocks) lock(scope service.Scope) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[service.Scope]*sync.Mutex)
	}
	l, ok := s.locks[scope]
	if !ok {
		l = &sync.Mutex{}
		s.locks[scope] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
