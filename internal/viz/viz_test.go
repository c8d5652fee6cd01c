package viz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumhq/quorum/internal/geo"
)

func fenced(body string) string {
	return "```" + Fence + "\n" + body + "\n```"
}

func TestExtractBlocks(t *testing.T) {
	mapBlock := fenced(`{"type":"map","markers":[{"name":"A","lat":1.0,"lng":2.0}]}`)
	chartBlock := fenced(`{"type":"chart","series":[1,2,3]}`)
	text := "Here are the results.\n\n" + mapBlock + "\n\nAnd a chart:\n" + chartBlock + "\n"

	blocks := ExtractBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, TypeMap, blocks[0].Type)
	assert.Equal(t, mapBlock, blocks[0].Raw)
	assert.Equal(t, "chart", blocks[1].Type)
	assert.Equal(t, chartBlock, blocks[1].Raw)
}

func TestExtractBlocksSkipsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     fenced("this is not json"),
		"missing type": fenced(`{"markers":[]}`),
		"empty type":   fenced(`{"type":""}`),
		"json array":   fenced(`[1,2,3]`),
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, ExtractBlocks(text))
		})
	}
}

func TestExtractBlocksNoFence(t *testing.T) {
	assert.Nil(t, ExtractBlocks("plain answer with no visualization"))
}

func TestEnsureBlocksAppendsMissing(t *testing.T) {
	block := fenced(`{"type":"map","markers":[]}`)
	blocks := ExtractBlocks(block)
	require.Len(t, blocks, 1)

	out := EnsureBlocks("The synthesis dropped the block.", blocks)
	assert.True(t, ContainsBlock(out, blocks[0]))
}

func TestEnsureBlocksNeverDuplicates(t *testing.T) {
	block := fenced(`{"type":"map","markers":[]}`)
	blocks := ExtractBlocks(block)
	require.Len(t, blocks, 1)

	text := "Answer with block already present.\n\n" + block
	out := EnsureBlocks(text, blocks)
	assert.Equal(t, text, out)
	assert.Equal(t, 1, strings.Count(out, block))

	// Same block listed twice must still be appended once.
	out = EnsureBlocks("empty", []Block{blocks[0], blocks[0]})
	assert.Equal(t, 1, strings.Count(out, block))
}

func TestHasMapIntent(t *testing.T) {
	positive := []string{
		"best greek restaurants in San Francisco, show them on a map",
		"map of coffee shops downtown",
		"where are the nearest pharmacies",
		"give me a map",
		"Map, please!",
	}
	for _, q := range positive {
		assert.True(t, HasMapIntent(q), q)
	}

	negative := []string{
		"tell me a joke",
		"history of cartography and mapping software",
		"what is the capital of France",
	}
	for _, q := range negative {
		assert.False(t, HasMapIntent(q), q)
	}
}

func TestBuildMapBlock(t *testing.T) {
	places := []geo.Place{
		{Name: "Kokkari", Lat: 37.7970, Lng: -122.3997},
		{Name: "Souvla", Address: "517 Hayes St, San Francisco, CA"},
	}
	block, ok := BuildMapBlock(places)
	require.True(t, ok)
	assert.Equal(t, TypeMap, block.Type)
	assert.Contains(t, block.Raw, "Kokkari")
	assert.Contains(t, block.Raw, "Souvla")

	// The constructed block must itself be extractable.
	round := ExtractBlocks(block.Raw)
	require.Len(t, round, 1)
	assert.Equal(t, block.Raw, round[0].Raw)
}

func TestBuildMapBlockFailsSilently(t *testing.T) {
	_, ok := BuildMapBlock(nil)
	assert.False(t, ok)

	_, ok = BuildMapBlock([]geo.Place{{Name: ""}, {Name: "NoData"}})
	assert.False(t, ok)
}

func TestWrapPayloadRequiresType(t *testing.T) {
	_, err := WrapPayload(map[string]interface{}{"markers": []string{}})
	assert.Error(t, err)
}
