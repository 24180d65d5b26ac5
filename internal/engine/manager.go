package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
)

// Manager is the tenant registry. Created engines run live (workers
// started) until deleted or the manager shuts down.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	base   Options
	logger *zap.Logger
}

// NewManager builds a registry that stamps base with each tenant's id.
// base.TenantID is ignored.
func NewManager(base Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engines: make(map[string]*Engine),
		base:    base,
		logger:  logger,
	}
}

// Create builds and starts an engine for the tenant. An empty id gets a
// generated one.
func (m *Manager) Create(tenantID string) (*Engine, error) {
	if tenantID == "" {
		tenantID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.engines[tenantID]; ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrDuplicate)
	}

	opts := m.base
	opts.TenantID = tenantID
	eng, err := New(opts)
	if err != nil {
		return nil, err
	}
	eng.Start()
	m.engines[tenantID] = eng
	m.logger.Info("tenant created", zap.String("tenant_id", tenantID))
	return eng, nil
}

func (m *Manager) Get(tenantID string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	eng, ok := m.engines[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	return eng, nil
}

// Delete tears the tenant down: stops its workers and purges its
// durable state.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	eng, ok := m.engines[tenantID]
	if ok {
		delete(m.engines, tenantID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	if err := eng.Close(ctx); err != nil {
		m.logger.Warn("engine close failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if err := eng.Purge(ctx); err != nil {
		return err
	}
	m.logger.Info("tenant deleted", zap.String("tenant_id", tenantID))
	return nil
}

// TenantIDs returns the registered tenant ids in stable order.
func (m *Manager) TenantIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

// Shutdown closes every engine. The registry is unusable afterwards
// only in the sense that it is empty; Create still works.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for id, eng := range engines {
		if err := eng.Close(ctx); err != nil {
			m.logger.Warn("engine close failed", zap.String("tenant_id", id), zap.Error(err))
		}
	}
}
