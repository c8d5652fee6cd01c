// Package viz handles structured visualization payloads: delimited,
// machine-parseable blocks embedded in agent output that a downstream
// renderer consumes. Preserving these blocks byte-for-byte through lossy
// text synthesis is the core correctness invariant of result mixing.
package viz

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/quorumhq/quorum/internal/geo"
)

// Fence tags the fenced code block carrying a visualization payload.
const Fence = "quorum-viz"

// TypeMap is the payload type consumed by the map renderer.
const TypeMap = "map"

// Block is one extracted visualization payload. Raw is the complete fenced
// block exactly as it appeared in the source text, delimiters included, so
// presence checks and re-insertion stay byte-exact.
type Block struct {
	Type    string
	Raw     string
	Payload map[string]interface{}
}

var blockPattern = regexp.MustCompile("(?s)```" + Fence + "[ \\t]*\\n(.*?)\\n```")

// ExtractBlocks returns every well-formed visualization block in the text, in
// order of appearance. A block is well-formed when its body is a JSON object
// with a non-empty string "type" field; anything else is skipped.
func ExtractBlocks(text string) []Block {
	if !strings.Contains(text, "```"+Fence) {
		return nil
	}

	var blocks []Block
	for _, m := range blockPattern.FindAllStringSubmatch(text, -1) {
		body := m[1]
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			continue
		}
		typ, _ := payload["type"].(string)
		if typ == "" {
			continue
		}
		blocks = append(blocks, Block{
			Type:    typ,
			Raw:     m[0],
			Payload: payload,
		})
	}
	return blocks
}

// ContainsBlock reports whether the text already carries the block verbatim.
func ContainsBlock(text string, b Block) bool {
	return strings.Contains(text, b.Raw)
}

// EnsureBlocks appends every block missing from the text, preserving block
// order and never duplicating a block already present (or appended twice).
func EnsureBlocks(text string, blocks []Block) string {
	out := text
	appended := make(map[string]bool)
	for _, b := range blocks {
		if strings.Contains(out, b.Raw) || appended[b.Raw] {
			continue
		}
		if strings.TrimSpace(out) == "" {
			out = b.Raw
		} else {
			out = strings.TrimRight(out, "\n") + "\n\n" + b.Raw
		}
		appended[b.Raw] = true
	}
	return out
}

// WrapPayload renders a payload struct as a fenced visualization block.
func WrapPayload(payload interface{}) (Block, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return Block{}, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(buf, &m); err != nil {
		return Block{}, err
	}
	typ, _ := m["type"].(string)
	if typ == "" {
		return Block{}, fmt.Errorf("payload has no type field")
	}
	raw := "```" + Fence + "\n" + string(buf) + "\n```"
	return Block{Type: typ, Raw: raw, Payload: m}, nil
}

var mapIntentMarkers = []string{
	"on a map", "on the map", "show me where", "map of", "map them",
	"plot", "pin", "show locations", "visualize on", "map view",
	"show them on", "where is", "where are", "nearby", "near me",
	"directions to",
}

// HasMapIntent reports whether the query asks for a map-style visualization.
func HasMapIntent(query string) bool {
	q := strings.ToLower(query)
	for _, marker := range mapIntentMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	// A bare "map" token counts; "mapping software" does not need to.
	for _, tok := range strings.Fields(q) {
		if strings.Trim(tok, ".,!?") == "map" {
			return true
		}
	}
	return false
}

type mapMarker struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	Address string  `json:"address,omitempty"`
}

type mapPayload struct {
	Type    string      `json:"type"`
	Markers []mapMarker `json:"markers"`
}

// BuildMapBlock constructs a minimal map payload from extracted places. It is
// the last-resort fallback when no agent produced a map block but the query
// asked for one; on empty or unusable input it reports ok=false and the
// caller leaves the output unchanged.
func BuildMapBlock(places []geo.Place) (Block, bool) {
	if len(places) == 0 {
		return Block{}, false
	}

	markers := make([]mapMarker, 0, len(places))
	for _, p := range places {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		m := mapMarker{Name: name, Address: strings.TrimSpace(p.Address)}
		if p.HasCoordinates() {
			m.Lat = p.Lat
			m.Lng = p.Lng
		}
		if m.Lat == 0 && m.Lng == 0 && m.Address == "" {
			continue
		}
		markers = append(markers, m)
	}
	if len(markers) == 0 {
		return Block{}, false
	}

	b, err := WrapPayload(mapPayload{Type: TypeMap, Markers: markers})
	if err != nil {
		return Block{}, false
	}
	return b, true
}
