// Package mixer turns per-agent execution results into one coherent answer.
// Synthesis delegates to the external completion service; the structured
// visualization payloads embedded in agent outputs must survive that lossy
// step byte-for-byte, repaired deterministically when the model drops them.
package mixer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/executor"
	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/geo"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/metrics"
	"github.com/quorumhq/quorum/internal/viz"
)

// InsufficientInfo is the fixed response when every agent failed.
const InsufficientInfo = "I couldn't gather enough information to answer that. Please try rephrasing your question."

// Mixed is the final synthesized result.
type Mixed struct {
	Content  string                 `json:"content"`
	Weights  map[string]float64     `json:"weights"`
	Quality  float64                `json:"quality"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Mixer combines agent results into one answer.
type Mixer interface {
	Mix(ctx context.Context, results []executor.Result, query string) (*Mixed, error)
}

// SynthesisMixer is the production Mixer: weighted LLM synthesis with
// content preservation and layered fallbacks.
type SynthesisMixer struct {
	index       *experts.Index
	completions llm.CompletionService
	geocoder    geo.Geocoder // optional, enriches address-only places
	logger      *zap.Logger
}

// New creates a SynthesisMixer. geocoder may be nil; without it the map
// fallback only uses coordinates already present in the agent output.
func New(index *experts.Index, completions llm.CompletionService, geocoder geo.Geocoder, logger *zap.Logger) *SynthesisMixer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthesisMixer{index: index, completions: completions, geocoder: geocoder, logger: logger}
}

// Mix never returns an error for a non-empty result list: every failure mode
// degrades to a usable Mixed value.
func (m *SynthesisMixer) Mix(ctx context.Context, results []executor.Result, query string) (*Mixed, error) {
	successes := make([]executor.Result, 0, len(results))
	for _, r := range results {
		if r.Success {
			successes = append(successes, r)
		}
	}

	if len(successes) == 0 {
		metrics.SynthesisTotal.WithLabelValues("insufficient").Inc()
		return &Mixed{
			Content: InsufficientInfo,
			Weights: map[string]float64{},
			Quality: 0,
			Metadata: map[string]interface{}{
				"path": "insufficient",
			},
		}, nil
	}

	blocks := collectBlocks(successes)
	weights := m.normalizedWeights(successes)

	if len(successes) == 1 {
		only := successes[0]
		content := m.preserve(ctx, only.Output, blocks, successes, query)
		metrics.SynthesisTotal.WithLabelValues("verbatim").Inc()
		return &Mixed{
			Content: content,
			Weights: map[string]float64{only.AgentID: 1.0},
			Quality: quality(1, len(results), "verbatim"),
			Metadata: map[string]interface{}{
				"path": "verbatim",
			},
		}, nil
	}

	prompt := buildPrompt(query, successes, weights)
	content, err := m.completions.Complete(ctx, prompt)
	path := "synthesized"
	if err != nil || strings.TrimSpace(content) == "" {
		// Synthesis failure must never become a user-visible error when at
		// least one agent succeeded: take the highest-weighted raw output.
		m.logger.Warn("Synthesis failed, falling back to best agent output",
			zap.Error(err),
			zap.Int("successes", len(successes)),
		)
		metrics.Fallbacks.WithLabelValues("synthesis").Inc()
		content = bestOutput(successes, weights)
		path = "synthesis_fallback"
	}

	content = m.preserve(ctx, content, blocks, successes, query)
	metrics.SynthesisTotal.WithLabelValues(path).Inc()

	return &Mixed{
		Content: content,
		Weights: weights,
		Quality: quality(len(successes), len(results), path),
		Metadata: map[string]interface{}{
			"path": path,
		},
	}, nil
}

// collectBlocks extracts every well-formed visualization block from the
// successful outputs, de-duplicated by raw text in first-seen order.
func collectBlocks(successes []executor.Result) []viz.Block {
	var blocks []viz.Block
	seen := make(map[string]bool)
	for _, r := range successes {
		for _, b := range viz.ExtractBlocks(r.Output) {
			if seen[b.Raw] {
				continue
			}
			seen[b.Raw] = true
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// preserve enforces the content-preservation invariant: every extracted block
// ends up in the output exactly once, and a map-intent query with extractable
// place data gets a constructed map block when no agent produced one.
func (m *SynthesisMixer) preserve(ctx context.Context, content string, blocks []viz.Block, successes []executor.Result, query string) string {
	before := content
	content = viz.EnsureBlocks(content, blocks)
	if content != before {
		metrics.BlocksRepaired.Inc()
		m.logger.Info("Re-appended visualization blocks dropped by synthesis",
			zap.Int("blocks", len(blocks)))
	}

	if hasPopulatedMapBlock(blocks) || !viz.HasMapIntent(query) {
		return content
	}

	// Last-resort map construction from whatever place data the agents
	// produced. Fails silently on malformed or missing data.
	var places []geo.Place
	for _, r := range successes {
		places = append(places, geo.ExtractPlaces(r.Output)...)
	}
	places = m.resolveCoordinates(ctx, places)
	block, ok := viz.BuildMapBlock(places)
	if !ok {
		return content
	}
	m.logger.Info("Constructed fallback map block from extracted places",
		zap.Int("places", len(places)))
	return viz.EnsureBlocks(content, []viz.Block{block})
}

// resolveCoordinates fills in coordinates for address-only places via the
// geocoding service. Lookup failures leave the place as-is.
func (m *SynthesisMixer) resolveCoordinates(ctx context.Context, places []geo.Place) []geo.Place {
	if m.geocoder == nil {
		return places
	}
	for i, p := range places {
		if p.HasCoordinates() || p.Address == "" {
			continue
		}
		resolved, err := m.geocoder.Lookup(ctx, p.Name+", "+p.Address)
		if err != nil || len(resolved) == 0 || !resolved[0].HasCoordinates() {
			continue
		}
		places[i].Lat = resolved[0].Lat
		places[i].Lng = resolved[0].Lng
	}
	return places
}

// hasPopulatedMapBlock reports whether any map block carries at least one
// marker. An agent can produce a well-formed map block with zero markers;
// that block is still preserved byte-for-byte, but it does not satisfy map
// intent, so the address-based construction still runs.
func hasPopulatedMapBlock(blocks []viz.Block) bool {
	for _, b := range blocks {
		if b.Type != viz.TypeMap {
			continue
		}
		if markers, ok := b.Payload["markers"].([]interface{}); ok && len(markers) > 0 {
			return true
		}
	}
	return false
}

// normalizedWeights maps each successful agent to its configured group
// weight (default 1.0) divided by the sum, so weights total 1.0.
func (m *SynthesisMixer) normalizedWeights(successes []executor.Result) map[string]float64 {
	weights := make(map[string]float64, len(successes))
	sum := 0.0
	for _, r := range successes {
		w := m.index.WeightFor(r.AgentID)
		weights[r.AgentID] = w
		sum += w
	}
	if sum == 0 {
		sum = 1
	}
	for id := range weights {
		weights[id] /= sum
	}
	return weights
}

// bestOutput returns the raw output of the highest-weighted successful agent,
// breaking weight ties by agent ID for determinism.
func bestOutput(successes []executor.Result, weights map[string]float64) string {
	best := successes[0]
	for _, r := range successes[1:] {
		if weights[r.AgentID] > weights[best.AgentID] ||
			(weights[r.AgentID] == weights[best.AgentID] && r.AgentID < best.AgentID) {
			best = r
		}
	}
	return best.Output
}

// buildPrompt embeds every successful output labeled by agent and weight.
func buildPrompt(query string, successes []executor.Result, weights map[string]float64) string {
	ordered := make([]executor.Result, len(successes))
	copy(ordered, successes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return weights[ordered[i].AgentID] > weights[ordered[j].AgentID]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize the following expert results into one coherent answer for the query: %s\n\n", query)
	b.WriteString("Weigh each result by the weight shown. Keep any fenced " + viz.Fence + " blocks exactly as written.\n\n")
	for _, r := range ordered {
		fmt.Fprintf(&b, "=== Result from %s (weight %.2f) ===\n%s\n\n", r.AgentID, weights[r.AgentID], r.Output)
	}
	b.WriteString("Answer:")
	return b.String()
}

// quality is a coarse heuristic in [0,1]: success ratio plus a bonus for the
// path that produced the content.
func quality(successCount, total int, path string) float64 {
	if total == 0 || successCount == 0 {
		return 0
	}
	q := 0.6 * float64(successCount) / float64(total)
	switch path {
	case "synthesized":
		q += 0.4
	case "verbatim":
		q += 0.3
	case "synthesis_fallback":
		q += 0.2
	}
	if q > 1 {
		q = 1
	}
	return q
}
