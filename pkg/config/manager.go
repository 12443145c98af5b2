package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager owns the loaded configuration and the sources it came from.
type Manager struct {
	Service Service
	current atomic.Pointer[Config]
	mu      sync.Mutex
	sources []Source
}

func NewManager(service Service) *Manager {
	if service == nil {
		service = NewService()
	}
	return &Manager{Service: service}
}

// Load loads configuration and keeps the sources for Reload.
func (m *Manager) Load(ctx context.Context, sources ...Source) (*Config, error) {
	cfg, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sources = sources
	m.mu.Unlock()
	m.current.Store(cfg)
	return cfg, nil
}

// Get returns the current configuration, or defaults when nothing was loaded.
func (m *Manager) Get() *Config {
	if cfg := m.current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

// Reload re-reads every source.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	sources := m.sources
	m.mu.Unlock()
	cfg, err := m.Service.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	m.current.Store(cfg)
	return nil
}

// Close closes all sources.
func (m *Manager) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.sources {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.sources = nil
	return errors.Join(errs...)
}
