package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlacesCoordinates(t *testing.T) {
	text := `Top picks:
1. Kokkari Estiatorio (37.7970, -122.3997)
2. Souvla: 37.7764, -122.4241
`
	places := ExtractPlaces(text)
	require.Len(t, places, 2)
	assert.Equal(t, "Kokkari Estiatorio", places[0].Name)
	assert.InDelta(t, 37.7970, places[0].Lat, 1e-6)
	assert.InDelta(t, -122.3997, places[0].Lng, 1e-6)
	assert.True(t, places[1].HasCoordinates())
}

func TestExtractPlacesAddresses(t *testing.T) {
	text := `Recommended:
- Kokkari Estiatorio - 200 Jackson St, San Francisco, CA
- Souvla - 517 Hayes St, San Francisco, CA
`
	places := ExtractPlaces(text)
	require.Len(t, places, 2)
	assert.Equal(t, "Kokkari Estiatorio", places[0].Name)
	assert.Equal(t, "200 Jackson St, San Francisco, CA", places[0].Address)
	assert.False(t, places[0].HasCoordinates())
}

func TestExtractPlacesDeduplicatesByName(t *testing.T) {
	text := `Souvla (37.7764, -122.4241)
souvla - 517 Hayes St, San Francisco, CA
`
	places := ExtractPlaces(text)
	require.Len(t, places, 1)
	assert.True(t, places[0].HasCoordinates())
}

func TestExtractPlacesNeverErrors(t *testing.T) {
	inputs := []string{
		"",
		"   \n\t  ",
		"no places mentioned at all",
		"Broken (999.9, 888.8) coordinates out of range",
	}
	for _, in := range inputs {
		assert.Empty(t, ExtractPlaces(in))
	}
}

func TestHasCoordinatesRange(t *testing.T) {
	assert.True(t, Place{Lat: 37.0, Lng: -122.0}.HasCoordinates())
	assert.False(t, Place{Lat: 95.0, Lng: 10.0}.HasCoordinates())
	assert.False(t, Place{Lat: 10.0, Lng: 190.0}.HasCoordinates())
	assert.False(t, Place{}.HasCoordinates())
}
