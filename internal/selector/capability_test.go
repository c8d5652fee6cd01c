package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quorumhq/quorum/internal/agents"
	"github.com/quorumhq/quorum/internal/experts"
)

func testIndex(t *testing.T) *experts.Index {
	t.Helper()
	idx, err := experts.NewIndex([]experts.Group{
		{
			Name:         "conversation",
			AgentIDs:     []string{agents.AgentConversation},
			Capabilities: []string{"conversation", "chat", "general"},
			Description:  "General conversation and open-ended questions.",
			Examples:     []string{"tell me a joke"},
			Weight:       1.0,
		},
		{
			Name:         "websearch",
			AgentIDs:     []string{agents.AgentWebSearch},
			Capabilities: []string{"search", "news"},
			Description:  "Web search for fresh information.",
			Examples:     []string{"latest news about electric vehicles"},
			Weight:       1.2,
		},
		{
			Name:         "local",
			AgentIDs:     []string{agents.AgentBusiness, agents.AgentBusinessPro},
			Capabilities: []string{"business", "restaurants", "places"},
			Description:  "Local business lookup with ratings and addresses.",
			Examples:     []string{"best greek restaurants in San Francisco"},
			Weight:       1.5,
		},
		{
			Name:         "geo",
			AgentIDs:     []string{agents.AgentMap, agents.AgentGeocode},
			Capabilities: []string{"map", "location", "geocoding"},
			Description:  "Maps, geocoding, and location visualization.",
			Examples:     []string{"show them on a map"},
			Weight:       1.3,
		},
	})
	require.NoError(t, err)
	return idx
}

func TestCapabilitySelectMatchesCapability(t *testing.T) {
	sel := NewCapabilitySelector(testIndex(t), 0.2, zaptest.NewLogger(t))

	ids, err := sel.Select(context.Background(), "best greek restaurants in the city", 3, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Equal(t, agents.AgentBusiness, ids[0])
}

func TestCapabilitySelectDeterministic(t *testing.T) {
	sel := NewCapabilitySelector(testIndex(t), 0.2, zaptest.NewLogger(t))

	first, err := sel.Select(context.Background(), "restaurants near downtown on a map", 3, 0.1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := sel.Select(context.Background(), "restaurants near downtown on a map", 3, 0.1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCapabilitySelectFallbackOnNoMatch(t *testing.T) {
	sel := NewCapabilitySelector(testIndex(t), 0.2, zaptest.NewLogger(t))

	ids, err := sel.Select(context.Background(), "zzzz qqqq xxxx", 3, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Equal(t, agents.AgentConversation, ids[0])
}

func TestCapabilitySelectRespectsK(t *testing.T) {
	sel := NewCapabilitySelector(testIndex(t), 1.0, zaptest.NewLogger(t))

	ids, err := sel.Select(context.Background(), "search news restaurants map location chat", 2, 0.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ids), 2)
}

func TestRankAndCutGapCutoff(t *testing.T) {
	g := func(name string) experts.Group { return experts.Group{Name: name} }
	candidates := []scoredGroup{
		{group: g("a"), score: 0.9},
		{group: g("b"), score: 0.85},
		{group: g("c"), score: 0.4},
	}

	kept := rankAndCut(candidates, 3, 0.15)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].group.Name)
	assert.Equal(t, "b", kept[1].group.Name)
}

func TestRankAndCutAlwaysKeepsTop(t *testing.T) {
	kept := rankAndCut([]scoredGroup{{group: experts.Group{Name: "only"}, score: 0.05}}, 3, 0.01)
	require.Len(t, kept, 1)
	assert.Equal(t, "only", kept[0].group.Name)
}

func TestRankAndCutTieBreakByName(t *testing.T) {
	g := func(name string) experts.Group { return experts.Group{Name: name} }
	kept := rankAndCut([]scoredGroup{
		{group: g("zeta"), score: 0.5},
		{group: g("alpha"), score: 0.5},
	}, 2, 0.2)
	require.Len(t, kept, 2)
	assert.Equal(t, "alpha", kept[0].group.Name)
}

func TestExpandToAgentsDeduplicates(t *testing.T) {
	kept := []scoredGroup{
		{group: experts.Group{Name: "x", AgentIDs: []string{"a", "b"}}},
		{group: experts.Group{Name: "y", AgentIDs: []string{"b", "c"}}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, expandToAgents(kept, 5))
	assert.Equal(t, []string{"a", "b"}, expandToAgents(kept, 2))
}

func TestFallbackAgentsPriority(t *testing.T) {
	idx := testIndex(t)
	assert.Equal(t, []string{agents.AgentConversation, agents.AgentWebSearch}, fallbackAgents(idx, 3))
	assert.Equal(t, []string{agents.AgentConversation}, fallbackAgents(idx, 1))
}
