package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/metrics"
)

// Memory is the in-process ResultCache. Entries expire lazily on read and
// the oldest entries are evicted when the count limit is exceeded on store.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger
}

// NewMemory creates an in-memory cache.
func NewMemory(ttl time.Duration, maxEntries int, logger *zap.Logger) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Get returns the entry for a query, physically removing it when the read
// discovers it expired.
func (m *Memory) Get(_ context.Context, query string) (*Entry, bool) {
	key := Key(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if e.Expired(time.Now()) {
		delete(m.entries, key)
		metrics.CacheEvictions.Inc()
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	cp := *e
	return &cp, true
}

// Store saves a response, evicting the oldest entries when over the limit.
func (m *Memory) Store(_ context.Context, query, response string, agentIDs []string) {
	key := Key(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(agentIDs))
	copy(ids, agentIDs)
	m.entries[key] = &Entry{
		Query:     Normalize(query),
		Response:  response,
		AgentIDs:  ids,
		CreatedAt: time.Now(),
		TTL:       m.ttl,
	}

	if len(m.entries) <= m.maxEntries {
		return
	}

	// Over the limit: drop oldest-first until under it.
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, aged{key: k, at: e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	for _, a := range all {
		if len(m.entries) <= m.maxEntries {
			break
		}
		delete(m.entries, a.key)
		metrics.CacheEvictions.Inc()
	}
}

// Clear drops all entries.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
}

// Len returns the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
