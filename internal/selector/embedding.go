package selector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quorumhq/quorum/internal/embeddings"
	"github.com/quorumhq/quorum/internal/experts"
)

// EmbeddingSelector ranks expert groups by cosine similarity between the
// query embedding and precomputed per-group description embeddings. Near
// deterministic: repeated queries resolve through the embedding cache.
type EmbeddingSelector struct {
	index   *experts.Index
	service *embeddings.Service
	logger  *zap.Logger

	mu        sync.RWMutex
	gap       float64
	groupVecs map[string][]float32 // group name -> description embedding
}

// NewEmbeddingSelector creates the similarity strategy. Call Warm before
// first use to precompute the per-group description embeddings.
func NewEmbeddingSelector(index *experts.Index, service *embeddings.Service, gap float64, logger *zap.Logger) *EmbeddingSelector {
	if gap <= 0 {
		gap = 0.15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingSelector{
		index:   index,
		service: service,
		gap:     gap,
		logger:  logger,
	}
}

func (s *EmbeddingSelector) Name() string { return "embedding" }

// SetGap updates the relevance-gap knob (hot reload).
func (s *EmbeddingSelector) SetGap(gap float64) {
	if gap <= 0 {
		return
	}
	s.mu.Lock()
	s.gap = gap
	s.mu.Unlock()
}

// groupText is the text embedded per group: description plus capability tags
// plus examples, so thin descriptions still rank.
func groupText(g experts.Group) string {
	parts := []string{g.Description, strings.Join(g.Capabilities, ", ")}
	parts = append(parts, g.Examples...)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Warm precomputes all expert description embeddings in one batched call.
// Must complete before Select is used; safe to call again to refresh.
func (s *EmbeddingSelector) Warm(ctx context.Context) error {
	groups := s.index.Groups()
	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = groupText(g)
	}

	vecs, err := s.service.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("precompute expert embeddings: %w", err)
	}

	m := make(map[string][]float32, len(groups))
	for i, g := range groups {
		m[g.Name] = vecs[i]
	}

	s.mu.Lock()
	s.groupVecs = m
	s.mu.Unlock()

	s.logger.Info("Expert description embeddings precomputed",
		zap.Int("groups", len(groups)))
	return nil
}

// Select embeds the query, scores every warmed group by rescaled cosine
// similarity, and applies the shared threshold/gap/expand pipeline. Internal
// failures wrap ErrSelection so the orchestrator can fail open to the
// capability strategy.
func (s *EmbeddingSelector) Select(ctx context.Context, query string, k int, threshold float64) ([]string, error) {
	if k < 1 {
		k = 1
	}

	s.mu.RLock()
	gap := s.gap
	vecs := s.groupVecs
	s.mu.RUnlock()

	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: expert embeddings not precomputed", ErrSelection)
	}

	qVec, err := s.service.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrSelection, err)
	}

	var candidates []scoredGroup
	for _, g := range s.index.Groups() {
		gv, ok := vecs[g.Name]
		if !ok {
			continue
		}
		// Rescale cosine from [-1,1] to [0,1].
		score := (embeddings.Cosine(qVec, gv) + 1) / 2
		if score >= threshold {
			candidates = append(candidates, scoredGroup{group: g, score: score})
		}
	}

	kept := rankAndCut(candidates, k, gap)
	ids := expandToAgents(kept, k)
	if len(ids) == 0 {
		s.logger.Debug("No embedding match above threshold, using fallback agents",
			zap.String("query", query))
		return fallbackAgents(s.index, k), nil
	}
	return ids, nil
}
