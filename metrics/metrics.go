package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks admission statistics for one process. Counters are local to
// the process by design: the shared store owns correctness, these exist for
// operators.
type Metrics struct {
	totalRequests atomic.Int64
	admitted      atomic.Int64
	denied        atomic.Int64
	storeFailures atomic.Int64

	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	startTime   time.Time
}

// ClientStats tracks statistics for a single client key.
type ClientStats struct {
	ClientKey      string    `json:"client_key"`
	TotalRequests  int64     `json:"total_requests"`
	Admitted       int64     `json:"admitted"`
	Denied         int64     `json:"denied"`
	FirstRequestAt time.Time `json:"first_request_at"`
	LastRequestAt  time.Time `json:"last_request_at"`
}

// New creates a metrics tracker.
func New() *Metrics {
	return &Metrics{
		clientStats: make(map[string]*ClientStats),
		startTime:   time.Now(),
	}
}

// RecordRequest records one admission decision for a client key.
func (m *Metrics) RecordRequest(clientKey string, admitted bool) {
	m.totalRequests.Add(1)
	if admitted {
		m.admitted.Add(1)
	} else {
		m.denied.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.clientStats[clientKey]
	if !exists {
		stats = &ClientStats{
			ClientKey:      clientKey,
			FirstRequestAt: time.Now(),
		}
		m.clientStats[clientKey] = stats
	}

	stats.TotalRequests++
	if admitted {
		stats.Admitted++
	} else {
		stats.Denied++
	}
	stats.LastRequestAt = time.Now()
}

// RecordStoreFailure counts one fail-open (or fail-closed) event. The
// fail-open trade-off is deliberate and must stay auditable, so every
// occurrence lands here and in the logs.
func (m *Metrics) RecordStoreFailure() {
	m.totalRequests.Add(1)
	m.storeFailures.Add(1)
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	TotalRequests int64          `json:"total_requests"`
	Admitted      int64          `json:"admitted"`
	Denied        int64          `json:"denied"`
	StoreFailures int64          `json:"store_failures"`
	UniqueClients int64          `json:"unique_clients"`
	TopClients    []*ClientStats `json:"top_clients"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     time.Time      `json:"start_time"`
}

// GetSnapshot returns the current counters and the ten busiest clients.
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		clone := *stats
		topClients = append(topClients, &clone)
	}

	sort.Slice(topClients, func(i, j int) bool {
		return topClients[i].TotalRequests > topClients[j].TotalRequests
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	return &Snapshot{
		TotalRequests: m.totalRequests.Load(),
		Admitted:      m.admitted.Load(),
		Denied:        m.denied.Load(),
		StoreFailures: m.storeFailures.Load(),
		UniqueClients: int64(len(m.clientStats)),
		TopClients:    topClients,
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		StartTime:     m.startTime,
	}
}
