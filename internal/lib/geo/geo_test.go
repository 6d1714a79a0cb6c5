package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoUtils_PointToPoint(t *testing.T) {
	// Phoenix service area test coordinates: downtown hub to a job site
	hub := Point{Latitude: 33.4484, Longitude: -112.0740}
	jobSite := Point{Latitude: 33.5093, Longitude: -111.8990}

	geoUtils := NewGeoUtils()

	distance, err := geoUtils.PointToPoint(hub, jobSite)
	require.NoError(t, err)

	// Expected distance ~17.6 km between the two sites
	assert.InDelta(t, 17600, distance, 500, "Distance should be approximately 17.6km")

	// Test error cases
	invalidPoint := Point{Latitude: 200, Longitude: -300}
	_, err = geoUtils.PointToPoint(hub, invalidPoint)
	assert.Error(t, err, "Should return error for invalid coordinates")
}

func TestGeoUtils_PointToPoint_Identity(t *testing.T) {
	geoUtils := NewGeoUtils()

	p := Point{Latitude: 10, Longitude: 20}
	distance, err := geoUtils.PointToPoint(p, p)
	require.NoError(t, err)
	assert.Zero(t, distance, "Distance from a point to itself should be zero")
}

func TestGeoUtils_PointToPoint_Symmetry(t *testing.T) {
	geoUtils := NewGeoUtils()

	a := Point{Latitude: 33.4484, Longitude: -112.0740}
	b := Point{Latitude: 40.7128, Longitude: -74.0060}

	ab, err := geoUtils.PointToPoint(a, b)
	require.NoError(t, err)
	ba, err := geoUtils.PointToPoint(b, a)
	require.NoError(t, err)

	assert.Equal(t, ab, ba, "Distance should be symmetric")
}

func TestGeoUtils_PointToPoint_OneDegreeLongitudeAtEquator(t *testing.T) {
	geoUtils := NewGeoUtils()

	distance, err := geoUtils.DistanceFromCoords(0, 0, 0, 1)
	require.NoError(t, err)

	// One degree of longitude at the equator is ~111,195m
	assert.InEpsilon(t, 111195, distance, 0.01)
}

func TestGeoUtils_DecodePolyline(t *testing.T) {
	geoUtils := NewGeoUtils()

	// Known Google polyline encoding for three points
	points, err := geoUtils.DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.InDelta(t, 38.5, points[0].Latitude, 0.01)
	assert.InDelta(t, -120.2, points[0].Longitude, 0.01)

	// Empty string is an error
	_, err = geoUtils.DecodePolyline("")
	assert.Error(t, err)
}

func TestNewPoint_Validation(t *testing.T) {
	_, err := NewPoint(91, 0)
	assert.Error(t, err, "Latitude beyond 90 should be rejected")

	_, err = NewPoint(0, -181)
	assert.Error(t, err, "Longitude beyond -180 should be rejected")

	p, err := NewPoint(-90, 180)
	require.NoError(t, err)
	assert.Equal(t, Point{Latitude: -90, Longitude: 180}, p)
}
