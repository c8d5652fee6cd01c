package mixer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/executor"
	"github.com/quorumhq/quorum/internal/experts"
	"github.com/quorumhq/quorum/internal/geo"
	"github.com/quorumhq/quorum/internal/viz"
)

type fakeCompletions struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompletions) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeGeocoder struct {
	places map[string]geo.Place
}

func (f *fakeGeocoder) Lookup(_ context.Context, text string) ([]geo.Place, error) {
	for name, p := range f.places {
		if strings.Contains(text, name) {
			return []geo.Place{p}, nil
		}
	}
	return nil, nil
}

func mixerIndex(t *testing.T) *experts.Index {
	t.Helper()
	idx, err := experts.NewIndex([]experts.Group{
		{
			Name:         "local",
			AgentIDs:     []string{agents.AgentBusiness},
			Capabilities: []string{"business"},
			Weight:       1.5,
		},
		{
			Name:         "geo",
			AgentIDs:     []string{agents.AgentMap},
			Capabilities: []string{"map"},
			Weight:       1.0,
		},
	})
	require.NoError(t, err)
	return idx
}

func success(agentID, output string) executor.Result {
	return executor.Result{AgentID: agentID, Output: output, Success: true}
}

func failure(agentID, msg string) executor.Result {
	return executor.Result{AgentID: agentID, Error: msg, Kind: executor.ErrKindExecution}
}

func mapBlockText(t *testing.T) string {
	t.Helper()
	block, ok := viz.BuildMapBlock([]geo.Place{{Name: "Kokkari", Lat: 37.797, Lng: -122.3997}})
	require.True(t, ok)
	return block.Raw
}

func TestMixAllFailed(t *testing.T) {
	m := New(mixerIndex(t), &fakeCompletions{}, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		failure(agents.AgentBusiness, "down"),
		failure(agents.AgentMap, "timeout"),
	}, "anything")
	require.NoError(t, err)

	assert.Equal(t, InsufficientInfo, mixed.Content)
	assert.Zero(t, mixed.Quality)
	assert.Empty(t, mixed.Weights)
}

func TestMixSingleSuccessVerbatim(t *testing.T) {
	comp := &fakeCompletions{response: "should not be called"}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Only answer."),
		failure(agents.AgentMap, "down"),
	}, "query")
	require.NoError(t, err)

	assert.Equal(t, "Only answer.", mixed.Content)
	assert.Empty(t, comp.prompts, "single success must skip synthesis")
	assert.Equal(t, map[string]float64{agents.AgentBusiness: 1.0}, mixed.Weights)
	assert.Greater(t, mixed.Quality, 0.0)
}

func TestMixSynthesizesMultipleResults(t *testing.T) {
	comp := &fakeCompletions{response: "Combined answer."}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Business output."),
		success(agents.AgentMap, "Map output."),
	}, "query")
	require.NoError(t, err)

	assert.Equal(t, "Combined answer.", mixed.Content)
	require.Len(t, comp.prompts, 1)
	assert.Contains(t, comp.prompts[0], "Business output.")
	assert.Contains(t, comp.prompts[0], "Map output.")

	// Group weights 1.5 and 1.0 normalize to sum 1.
	assert.InDelta(t, 0.6, mixed.Weights[agents.AgentBusiness], 1e-9)
	assert.InDelta(t, 0.4, mixed.Weights[agents.AgentMap], 1e-9)
}

func TestMixPromptOrdersByWeight(t *testing.T) {
	comp := &fakeCompletions{response: "ok"}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	_, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentMap, "Map output."),
		success(agents.AgentBusiness, "Business output."),
	}, "query")
	require.NoError(t, err)

	prompt := comp.prompts[0]
	assert.Less(t, strings.Index(prompt, agents.AgentBusiness), strings.Index(prompt, agents.AgentMap),
		"higher-weighted result must come first")
}

func TestMixPreservesBlocksThroughSynthesis(t *testing.T) {
	block := mapBlockText(t)
	// Model rewrote the text and dropped the block.
	comp := &fakeCompletions{response: "Here is a nice summary without the payload."}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Restaurants listed."),
		success(agents.AgentMap, "See the map below.\n\n"+block),
	}, "show restaurants on a map")
	require.NoError(t, err)

	assert.Contains(t, mixed.Content, block, "block must survive synthesis byte-for-byte")
	assert.Equal(t, 1, strings.Count(mixed.Content, block))
}

func TestMixDoesNotDuplicatePreservedBlock(t *testing.T) {
	block := mapBlockText(t)
	// Model kept the block this time.
	comp := &fakeCompletions{response: "Summary.\n\n" + block}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Restaurants."),
		success(agents.AgentMap, block),
	}, "show restaurants on a map")
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(mixed.Content, block))
}

func TestMixSynthesisFailureFallsBackToBestOutput(t *testing.T) {
	comp := &fakeCompletions{err: errors.New("llm unavailable")}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentMap, "Map output."),
		success(agents.AgentBusiness, "Business output."),
	}, "query")
	require.NoError(t, err)

	// businessAgent carries the higher group weight.
	assert.Equal(t, "Business output.", mixed.Content)
	assert.Equal(t, "synthesis_fallback", mixed.Metadata["path"])
	assert.Greater(t, mixed.Quality, 0.0)
}

func TestMixEmptySynthesisTreatedAsFailure(t *testing.T) {
	comp := &fakeCompletions{response: "   \n  "}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Business output."),
		success(agents.AgentMap, "Map output."),
	}, "query")
	require.NoError(t, err)

	assert.Equal(t, "Business output.", mixed.Content)
	assert.Equal(t, "synthesis_fallback", mixed.Metadata["path"])
}

func TestMixBuildsMapFallbackFromAddresses(t *testing.T) {
	comp := &fakeCompletions{response: "Great greek spots: Kokkari and Souvla."}
	geocoder := &fakeGeocoder{places: map[string]geo.Place{
		"Souvla": {Name: "Souvla", Lat: 37.7764, Lng: -122.4241},
	}}
	m := New(mixerIndex(t), comp, geocoder, zaptest.NewLogger(t))

	business := "Top picks:\n" +
		"- Kokkari Estiatorio - 200 Jackson St, San Francisco, CA\n" +
		"- Souvla - 517 Hayes St, San Francisco, CA\n"

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, business),
		success(agents.AgentMap, "I could not generate a map."),
	}, "best greek restaurants in San Francisco, show them on a map")
	require.NoError(t, err)

	blocks := viz.ExtractBlocks(mixed.Content)
	require.Len(t, blocks, 1, "a map block must be constructed from extracted places")
	assert.Equal(t, viz.TypeMap, blocks[0].Type)
	assert.Contains(t, blocks[0].Raw, "Kokkari")
	assert.Contains(t, blocks[0].Raw, "37.7764", "geocoded coordinates must be attached")
}

func TestMixEmptyMapBlockStillGetsAddressFallback(t *testing.T) {
	emptyBlock := "```" + viz.Fence + "\n{\"type\":\"map\",\"markers\":[]}\n```"
	// Model dropped the empty block during synthesis.
	comp := &fakeCompletions{response: "Great greek spots: Kokkari and Souvla."}
	geocoder := &fakeGeocoder{places: map[string]geo.Place{
		"Souvla": {Name: "Souvla", Lat: 37.7764, Lng: -122.4241},
	}}
	m := New(mixerIndex(t), comp, geocoder, zaptest.NewLogger(t))

	business := "Top picks:\n" +
		"- Kokkari Estiatorio - 200 Jackson St, San Francisco, CA\n" +
		"- Souvla - 517 Hayes St, San Francisco, CA\n"

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, business),
		success(agents.AgentMap, "Here you go.\n\n"+emptyBlock),
	}, "best greek restaurants in San Francisco, show them on a map")
	require.NoError(t, err)

	// The empty block survives byte-for-byte, but a populated block must be
	// constructed from the extracted addresses alongside it.
	assert.Equal(t, 1, strings.Count(mixed.Content, emptyBlock))

	blocks := viz.ExtractBlocks(mixed.Content)
	require.Len(t, blocks, 2)
	populated := blocks[1]
	if populated.Raw == emptyBlock {
		populated = blocks[0]
	}
	assert.Equal(t, viz.TypeMap, populated.Type)
	assert.Contains(t, populated.Raw, "Kokkari")
	assert.Contains(t, populated.Raw, "37.7764", "geocoded coordinates must be attached")
}

func TestMixMapFallbackFailsSilently(t *testing.T) {
	comp := &fakeCompletions{response: "No structured data here."}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, "Nothing place-like in this output."),
		success(agents.AgentMap, "Still nothing."),
	}, "show them on a map")
	require.NoError(t, err)

	assert.Empty(t, viz.ExtractBlocks(mixed.Content))
	assert.Equal(t, "No structured data here.", mixed.Content)
}

func TestMixNoMapIntentNoConstruction(t *testing.T) {
	comp := &fakeCompletions{response: "Plain synthesis."}
	m := New(mixerIndex(t), comp, nil, zaptest.NewLogger(t))

	business := "- Kokkari Estiatorio - 200 Jackson St, San Francisco, CA\n"
	mixed, err := m.Mix(context.Background(), []executor.Result{
		success(agents.AgentBusiness, business),
		success(agents.AgentMap, "x"),
	}, "best greek restaurants")
	require.NoError(t, err)

	assert.Empty(t, viz.ExtractBlocks(mixed.Content))
}

func TestQualityHeuristicBounds(t *testing.T) {
	assert.Zero(t, quality(0, 3, "synthesized"))
	assert.Zero(t, quality(0, 0, "verbatim"))
	assert.LessOrEqual(t, quality(3, 3, "synthesized"), 1.0)
	assert.Greater(t, quality(2, 3, "synthesized"), quality(2, 3, "synthesis_fallback"))
}
