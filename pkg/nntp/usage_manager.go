package nntp

import (
	"sync"

	"github.com/nzbstream/nzbstream/pkg/logger"
	"github.com/nzbstream/nzbstream/pkg/persistence"
)

// ProviderUsageData is the cumulative byte counter persisted for one
// configured NNTP provider.
type ProviderUsageData struct {
	TotalBytes int64 `json:"total_bytes"`
}

// ProviderUsageManager persists provider byte counters via StateManager so
// they survive a restart instead of resetting the daily/monthly quota
// tracking to zero every time the process restarts.
type ProviderUsageManager struct {
	state *persistence.StateManager
	data  map[string]*ProviderUsageData
	mu    sync.RWMutex
}

var (
	providerManagerOnce sync.Once
	providerManager     *ProviderUsageManager
	providerManagerErr  error
)

// GetProviderUsageManager returns the process-wide provider usage manager,
// loading its persisted state on first call. A single state file backs
// every provider pool in the process, so this is a singleton rather than
// one instance per pool.
func GetProviderUsageManager(sm *persistence.StateManager) (*ProviderUsageManager, error) {
	providerManagerOnce.Do(func() {
		m := &ProviderUsageManager{state: sm, data: make(map[string]*ProviderUsageData)}
		if _, err := sm.Get("provider_usage", &m.data); err != nil {
			providerManagerErr = err
			return
		}
		providerManager = m
	})
	return providerManager, providerManagerErr
}

func (m *ProviderUsageManager) save() {
	if err := m.state.Set("provider_usage", m.data); err != nil {
		logger.Error("failed to persist provider usage data", "err", err)
	}
}

// GetUsage returns the counters for a provider, creating a zeroed entry the
// first time it's seen.
func (m *ProviderUsageManager) GetUsage(name string) *ProviderUsageData {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.data[name]
	if !ok {
		data = &ProviderUsageData{}
		m.data[name] = data
	}
	return data
}

// IncrementBytes adds delta to a provider's running total and hands the
// counters to the state manager, whose debounced save coalesces rapid
// increments into one write of state.json; an update still waiting on that
// debounce is lost if the process crashes.
func (m *ProviderUsageManager) IncrementBytes(name string, delta int64) {
	m.mu.Lock()
	data, ok := m.data[name]
	if !ok {
		data = &ProviderUsageData{}
		m.data[name] = data
	}
	data.TotalBytes += delta
	m.mu.Unlock()

	m.save()
}

// FlushProvider writes the counters to state.json now instead of waiting
// for the debounced save. Every provider shares one state entry, so the
// whole counter map is written whichever provider is named.
func (m *ProviderUsageManager) FlushProvider(name string) {
	m.save()
	if err := m.state.Flush(); err != nil {
		logger.Error("failed to flush provider usage data", "provider", name, "err", err)
	}
}
