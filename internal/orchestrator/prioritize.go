package orchestrator

import (
	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/viz"
)

// PrioritizeForMapIntent re-orders candidates so a map-capable agent survives
// top-k truncation when the query asks for a visualization. It is a pure
// function of (query, candidates, maxK): idempotent, side-effect-free, never
// returns more than maxK IDs, never duplicates, and never introduces IDs
// outside the input plus the map agent.
//
// Without visualization intent it is plain truncation: candidates[:maxK].
// With intent, the map agent is kept (or injected) by evicting the geocode
// agent first, falling back to the lowest-ranked candidate.
func PrioritizeForMapIntent(query string, candidates []string, maxK int) []string {
	if maxK < 1 {
		maxK = 1
	}

	ids := dedupe(candidates)
	if len(ids) > maxK {
		ids = ids[:maxK]
	}

	if !viz.HasMapIntent(query) {
		return ids
	}
	if indexOf(ids, agents.AgentMap) >= 0 {
		return ids
	}

	if len(ids) < maxK {
		return append(ids, agents.AgentMap)
	}

	// Window is full: evict the secondary geocoding agent when present,
	// otherwise the lowest-priority candidate, keeping the evicted slot's rank.
	evict := indexOf(ids, agents.AgentGeocode)
	if evict < 0 {
		evict = len(ids) - 1
	}
	out := make([]string, len(ids))
	copy(out, ids)
	out[evict] = agents.AgentMap
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
