package selector

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/viz"
)

// stopWords are dropped before token matching. Curated for query text rather
// than prose; short function words and generic request verbs.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"be": true, "been": true, "of": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "with": true, "and": true, "or": true, "but": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "it": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "how": true, "can": true, "could": true,
	"would": true, "should": true, "do": true, "does": true, "did": true,
	"please": true, "tell": true, "show": true, "find": true, "get": true,
	"give": true, "want": true, "need": true, "about": true, "some": true,
	"any": true, "them": true, "us": true,
}

// locationTerms mark queries with a geographic flavor; groups carrying
// map/location capabilities get a boost for such queries.
var locationTerms = []string{
	"near", "nearby", "location", "address", "directions", "restaurant",
	"cafe", "shop", "store", "hotel", "city", "street", "downtown", "around",
}

var locationCapabilities = map[string]bool{
	"map": true, "maps": true, "location": true, "geocoding": true,
	"geo": true, "places": true, "navigation": true,
}

// CapabilitySelector matches query tokens against capability tags and group
// descriptions. Fully deterministic: same query and config always produce the
// same selection.
type CapabilitySelector struct {
	index  *experts.Index
	logger *zap.Logger

	mu  sync.RWMutex
	gap float64
}

// NewCapabilitySelector creates the keyword-matching strategy.
func NewCapabilitySelector(index *experts.Index, gap float64, logger *zap.Logger) *CapabilitySelector {
	if gap <= 0 {
		gap = 0.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapabilitySelector{index: index, gap: gap, logger: logger}
}

func (s *CapabilitySelector) Name() string { return "capability" }

// SetGap updates the relevance-gap knob (hot reload).
func (s *CapabilitySelector) SetGap(gap float64) {
	if gap <= 0 {
		return
	}
	s.mu.Lock()
	s.gap = gap
	s.mu.Unlock()
}

// Select scores every expert group against the query, applies the threshold
// and relevance-gap cutoff, and expands the kept groups to agent IDs. An
// empty ranking falls back to the fixed-priority default list.
func (s *CapabilitySelector) Select(_ context.Context, query string, k int, threshold float64) ([]string, error) {
	if k < 1 {
		k = 1
	}
	qLower := strings.ToLower(query)
	qTokens := tokenizeQuery(qLower)
	locQuery := isLocationQuery(qLower)

	s.mu.RLock()
	gap := s.gap
	s.mu.RUnlock()

	var candidates []scoredGroup
	for _, g := range s.index.Groups() {
		score := scoreGroup(qLower, qTokens, locQuery, g)
		if score >= threshold && score > 0 {
			candidates = append(candidates, scoredGroup{group: g, score: score})
		}
	}

	kept := rankAndCut(candidates, k, gap)
	ids := expandToAgents(kept, k)
	if len(ids) == 0 {
		s.logger.Debug("No capability match, using fallback agents",
			zap.String("query", query))
		return fallbackAgents(s.index, k), nil
	}
	return ids, nil
}

// scoreGroup combines capability-tag token overlap, bidirectional substring
// matching, description overlap, and the location boost into a [0,1] score.
func scoreGroup(qLower string, qTokens map[string]bool, locQuery bool, g experts.Group) float64 {
	var score float64

	for _, cap := range g.Capabilities {
		tag := strings.ToLower(strings.TrimSpace(cap))
		if tag == "" {
			continue
		}

		// Bidirectional substring: the tag appears in the query, or a query
		// token appears inside a multi-word tag.
		if strings.Contains(qLower, tag) {
			score += 0.5
			continue
		}

		tagTokens := tokenizeTag(tag)
		matched := 0
		for tok := range tagTokens {
			if qTokens[tok] || strings.Contains(qLower, tok) {
				matched++
			}
		}
		if len(tagTokens) > 0 && matched > 0 {
			score += 0.35 * float64(matched) / float64(len(tagTokens))
		}
	}

	// Description and examples contribute a weaker signal.
	descTokens := tokenizeQuery(strings.ToLower(g.Description + " " + strings.Join(g.Examples, " ")))
	if len(descTokens) > 0 {
		matched := 0
		for tok := range qTokens {
			if descTokens[tok] {
				matched++
			}
		}
		if len(qTokens) > 0 {
			score += 0.25 * float64(matched) / float64(len(qTokens))
		}
	}

	if locQuery && hasLocationCapability(g) {
		score += 0.3
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func hasLocationCapability(g experts.Group) bool {
	for _, cap := range g.Capabilities {
		if locationCapabilities[strings.ToLower(strings.TrimSpace(cap))] {
			return true
		}
	}
	return false
}

func isLocationQuery(qLower string) bool {
	if viz.HasMapIntent(qLower) {
		return true
	}
	for _, term := range locationTerms {
		if strings.Contains(qLower, term) {
			return true
		}
	}
	return false
}

func tokenizeQuery(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(tok) < 2 || stopWords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

func tokenizeTag(tag string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(tag, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '/'
	}) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}
