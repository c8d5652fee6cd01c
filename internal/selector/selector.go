// Package selector ranks expert groups against a query and picks a
// dynamic-sized subset of agents to execute. Two interchangeable strategies
// share the same shape: score candidates, drop below threshold, sort, apply
// the relevance-gap cutoff, expand to agent IDs.
package selector

import (
	"context"
	"errors"
	"sort"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/experts"
)

// ErrSelection marks an internal selection failure, distinct from "no match"
// (which yields the fallback list, not an error).
var ErrSelection = errors.New("expert selection failed")

// Selector picks agents for a query. Returned IDs are ordered by relevance
// and the slice is never empty for a nil error.
type Selector interface {
	Name() string
	Select(ctx context.Context, query string, k int, threshold float64) ([]string, error)
}

// scoredGroup pairs an expert group with its relevance score.
type scoredGroup struct {
	group experts.Group
	score float64
}

// rankAndCut sorts scored groups descending, breaks ties by group name for
// determinism, and applies the relevance-gap cutoff: the top candidate is
// always kept, subsequent candidates only while the score drop from the
// previously kept one stays within gap. Result size is dynamic, 1..k groups.
func rankAndCut(candidates []scoredGroup, k int, gap float64) []scoredGroup {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].group.Name < candidates[j].group.Name
	})

	kept := candidates[:1]
	for _, c := range candidates[1:] {
		if len(kept) >= k {
			break
		}
		if kept[len(kept)-1].score-c.score > gap {
			break
		}
		kept = append(kept, c)
	}
	return kept
}

// expandToAgents flattens kept groups into agent IDs, de-duplicating while
// preserving rank order, truncated to k.
func expandToAgents(kept []scoredGroup, k int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sg := range kept {
		for _, id := range sg.group.AgentIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			if len(out) >= k {
				return out
			}
		}
	}
	return out
}

// fallbackAgents is the fixed-priority list used when no candidate clears the
// threshold: general conversation first, then general web search.
func fallbackAgents(idx *experts.Index, k int) []string {
	var out []string
	for _, id := range []string{agents.AgentConversation, agents.AgentWebSearch} {
		if idx.KnownAgent(id) {
			out = append(out, id)
		}
		if len(out) >= k {
			break
		}
	}
	if len(out) == 0 {
		// Nothing well-known is configured; surface the conversational
		// default anyway so the orchestrator has something to try.
		out = []string{agents.AgentConversation}
	}
	return out
}
