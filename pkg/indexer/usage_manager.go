package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nzbstream/nzbstream/pkg/logger"
)

const usageSaveDebounce = 2 * time.Second

// UsageData is the persisted counters for a single indexer.
type UsageData struct {
	LastResetDay         string `json:"last_reset_day"`
	APIHitsUsed          int    `json:"api_hits_used"`
	DownloadsUsed        int    `json:"downloads_used"`
	AllTimeAPIHitsUsed   int64  `json:"all_time_api_hits_used"`
	AllTimeDownloadsUsed int64  `json:"all_time_downloads_used"`
}

// UsageManager tracks per-indexer daily/lifetime API-hit and download
// counters, persisted to a JSON file with debounced writes.
type UsageManager struct {
	path string
	data map[string]*UsageData

	mu        sync.RWMutex
	saveMu    sync.Mutex
	saveTimer *time.Timer
}

// NewUsageManager loads (or creates) the usage file at dataDir/usage.json.
func NewUsageManager(dataDir string) (*UsageManager, error) {
	m := &UsageManager{
		path: filepath.Join(dataDir, "usage.json"),
		data: make(map[string]*UsageData),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *UsageManager) load() error {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Unmarshal(b, &m.data)
}

func (m *UsageManager) saveNow() {
	m.mu.RLock()
	b, err := json.MarshalIndent(m.data, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		logger.Error("marshal usage data", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		logger.Error("create usage dir", "err", err)
		return
	}
	if err := os.WriteFile(m.path, b, 0644); err != nil {
		logger.Error("write usage data", "err", err)
	}
}

func (m *UsageManager) scheduleSave() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	m.saveTimer = time.AfterFunc(usageSaveDebounce, m.saveNow)
}

// Flush immediately persists pending changes; call before shutdown.
func (m *UsageManager) Flush() {
	m.saveMu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.saveMu.Unlock()
	m.saveNow()
}

// GetIndexerUsage returns the usage record for name, resetting the daily
// counters when the record is stale.
func (m *UsageManager) GetIndexerUsage(name string) *UsageData {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	data, ok := m.data[name]
	if !ok {
		data = &UsageData{LastResetDay: today}
		m.data[name] = data
		return data
	}
	if data.LastResetDay != today {
		data.LastResetDay = today
		data.APIHitsUsed = 0
		data.DownloadsUsed = 0
	}
	return data
}

// UpdateUsage applies header-reported absolute "used" counters, rolling
// yesterday's totals into the all-time counters on a day boundary.
func (m *UsageManager) UpdateUsage(name string, apiHitsUsed, downloadsUsed int) {
	m.mu.Lock()
	today := time.Now().Format("2006-01-02")
	data, ok := m.data[name]
	if !ok {
		data = &UsageData{LastResetDay: today}
		m.data[name] = data
	}

	if data.LastResetDay != today {
		data.AllTimeAPIHitsUsed += int64(data.APIHitsUsed)
		data.AllTimeDownloadsUsed += int64(data.DownloadsUsed)
		data.LastResetDay = today
		data.APIHitsUsed = apiHitsUsed
		data.DownloadsUsed = downloadsUsed
		data.AllTimeAPIHitsUsed += int64(apiHitsUsed)
		data.AllTimeDownloadsUsed += int64(downloadsUsed)
	} else {
		if deltaHits := apiHitsUsed - data.APIHitsUsed; deltaHits > 0 {
			data.AllTimeAPIHitsUsed += int64(deltaHits)
		}
		if deltaDls := downloadsUsed - data.DownloadsUsed; deltaDls > 0 {
			data.AllTimeDownloadsUsed += int64(deltaDls)
		}
		data.APIHitsUsed = apiHitsUsed
		data.DownloadsUsed = downloadsUsed
	}
	m.mu.Unlock()
	m.scheduleSave()
}

// IncrementUsed adds deltas directly, for clients (Easynews) that don't
// report absolute header counters.
func (m *UsageManager) IncrementUsed(name string, hits, downloads int) {
	m.mu.Lock()
	today := time.Now().Format("2006-01-02")
	data, ok := m.data[name]
	if !ok {
		data = &UsageData{LastResetDay: today}
		m.data[name] = data
	}
	if data.LastResetDay != today {
		data.LastResetDay = today
		data.APIHitsUsed = 0
		data.DownloadsUsed = 0
	}
	data.APIHitsUsed += hits
	data.DownloadsUsed += downloads
	data.AllTimeAPIHitsUsed += int64(hits)
	data.AllTimeDownloadsUsed += int64(downloads)
	m.mu.Unlock()
	m.scheduleSave()
}

// GetUsageByPrefix returns usage records for every indexer whose name has
// the given prefix, for meta-indexer (Prowlarr/NZBHydra) sub-accounting.
func (m *UsageManager) GetUsageByPrefix(prefix string) map[string]*UsageData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*UsageData)
	for name, data := range m.data {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			cp := *data
			out[name] = &cp
		}
	}
	return out
}

// SyncUsage drops usage records for indexers no longer configured, keeping
// sub-indexer entries (e.g. "NZBHydra2: NZBgeek") alive under an active parent.
func (m *UsageManager) SyncUsage(activeNames []string) {
	active := make(map[string]bool, len(activeNames))
	for _, n := range activeNames {
		active[n] = true
	}
	isActive := func(name string) bool {
		if active[name] {
			return true
		}
		for a := range active {
			if len(name) > len(a)+2 && name[:len(a)+2] == a+": " {
				return true
			}
		}
		return false
	}

	m.mu.Lock()
	changed := false
	for name := range m.data {
		if !isActive(name) {
			delete(m.data, name)
			changed = true
		}
	}
	m.mu.Unlock()
	if changed {
		m.scheduleSave()
	}
}
