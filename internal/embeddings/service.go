// Package embeddings provides vector generation against the external
// embedding service with content-addressed LRU memoization.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quorumhq/quorum/internal/metrics"
	"github.com/quorumhq/quorum/internal/tracing"
)

// Config controls the embedding service behavior.
type Config struct {
	// BaseURL points to the service providing /embeddings
	BaseURL string `mapstructure:"base_url"`
	// DefaultModel is the default embedding model
	DefaultModel string `mapstructure:"default_model"`
	// Timeout for outbound HTTP calls
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL sets TTL for embedding cache entries
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// MaxLRU controls in-process LRU size
	MaxLRU int `mapstructure:"max_lru"`
	// RequestsPerSecond caps outbound call rate; 0 disables limiting
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Service generates embeddings with caching and rate limiting.
type Service struct {
	cfg     Config
	http    *http.Client
	lru     *LocalLRU
	limiter *rate.Limiter
}

// NewService creates an embedding service from config, applying defaults for
// unset fields.
func NewService(cfg Config) *Service {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "text-embedding-3-small"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
	}

	return &Service{
		cfg:     c,
		http:    &http.Client{Timeout: c.Timeout},
		lru:     NewLocalLRU(c.MaxLRU),
		limiter: limiter,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(s.cfg.DefaultModel, text)
	if v, ok := s.lru.Get(key); ok {
		metrics.RecordEmbedding("lru_hit", 0)
		return v, nil
	}

	vecs, err := s.fetch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	s.lru.Set(key, vecs[0], s.cfg.CacheTTL)
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request,
// resolving cached entries locally and fetching only the misses.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var uncachedTexts []string
	var uncachedIndices []int

	for i, text := range texts {
		key := MakeKey(s.cfg.DefaultModel, text)
		if v, ok := s.lru.Get(key); ok {
			results[i] = v
			metrics.RecordEmbedding("lru_hit", 0)
			continue
		}
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		results[uncachedIndices[i]] = vec
		s.lru.Set(MakeKey(s.cfg.DefaultModel, uncachedTexts[i]), vec, s.cfg.CacheTTL)
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: s.cfg.DefaultModel}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbedding("error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbedding("error", time.Since(start).Seconds())
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbedding("error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbedding("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, embedding := range er.Embeddings {
		if len(embedding) == 0 {
			metrics.RecordEmbedding("empty", time.Since(start).Seconds())
			return nil, fmt.Errorf("no embeddings returned")
		}
		vec := make([]float32, len(embedding))
		for j, f := range embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}

	metrics.RecordEmbedding("ok", time.Since(start).Seconds())
	return out, nil
}

// Cosine computes the cosine similarity of two vectors, 0 when either is
// empty or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
