package geodesy

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geo-anchor/pkg/models"
)

func TestGeodeticToECEFKnownPoints(t *testing.T) {
	testCases := []struct {
		name    string
		pos     models.GeodeticPosition
		x, y, z float64
	}{
		{
			name: "Equator prime meridian",
			pos:  models.GeodeticPosition{Latitude: 0, Longitude: 0, Height: 0},
			x:    6378137.0, y: 0, z: 0,
		},
		{
			name: "Equator 90E",
			pos:  models.GeodeticPosition{Latitude: 0, Longitude: 90, Height: 0},
			x:    0, y: 6378137.0, z: 0,
		},
		{
			name: "North pole",
			pos:  models.GeodeticPosition{Latitude: 90, Longitude: 0, Height: 0},
			x:    0, y: 0, z: 6356752.3142,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := GeodeticToECEF(tc.pos)
			require.NoError(t, err)

			x, y, z := p.Floats()
			assert.InDelta(t, tc.x, x, 1e-3)
			assert.InDelta(t, tc.y, y, 1e-3)
			assert.InDelta(t, tc.z, z, 1e-3)
		})
	}
}

func TestRoundTripIdentity(t *testing.T) {
	// Grid over latitudes below the near-pole cutoff, a few longitudes and
	// heights. Forward then inverse must reproduce the input.
	lats := []float64{-89.5, -60, -45.5, -10, 0, 10, 33.3, 49.2781, 60, 89.5}
	lons := []float64{-179.9, -122.9199, -60, 0, 45, 139.65, 179.9}
	heights := []float64{-100, 0, 370, 8848}

	for _, lat := range lats {
		for _, lon := range lons {
			for _, h := range heights {
				in := models.GeodeticPosition{Latitude: lat, Longitude: lon, Height: h}
				ecef, err := GeodeticToECEF(in)
				require.NoError(t, err)

				out, err := ECEFToGeodetic(ecef, 0, 0)
				require.NoError(t, err, "inverse diverged at (%v, %v, %v)", lat, lon, h)

				assert.InDelta(t, lat, out.Latitude, 1e-9)
				assert.InDelta(t, lon, out.Longitude, 1e-9)
				assert.InDelta(t, h, out.Height, 1e-6)
			}
		}
	}
}

func TestRotationOrthonormality(t *testing.T) {
	// ENU -> ECEF -> ENU at the same reference must be the identity.
	refs := []struct{ lat, lon float64 }{
		{0, 0}, {49.2781, -122.9199}, {-33.8688, 151.2093}, {89.0, 10.0}, {-89.0, -170.0},
	}
	vectors := []models.EnuVector{
		{East: 1, North: 0, Up: 0},
		{East: 0, North: 1, Up: 0},
		{East: 0, North: 0, Up: 1},
		{East: 5, North: 10, Up: 0},
		{East: -123.4, North: 56.7, Up: -8.9},
	}

	for _, ref := range refs {
		for _, v := range vectors {
			delta := ENUDeltaToECEF(v, ref.lat, ref.lon)
			back := ECEFDeltaToENU(delta, ref.lat, ref.lon)

			assert.InDelta(t, v.East, back.East, 1e-9)
			assert.InDelta(t, v.North, back.North, 1e-9)
			assert.InDelta(t, v.Up, back.Up, 1e-9)
		}
	}
}

func TestMeterOffsetSurvivesECEFArithmetic(t *testing.T) {
	// A 1 m ENU offset added to an Earth-radius-scale ECEF position and
	// subtracted back must come out whole, not rounded away.
	creator := models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370}
	pc, err := GeodeticToECEF(creator)
	require.NoError(t, err)

	delta := ENUDeltaToECEF(models.EnuVector{East: 1}, creator.Latitude, creator.Longitude)
	recovered := ECEFDeltaToENU(pc.Add(delta).Sub(pc), creator.Latitude, creator.Longitude)

	assert.InDelta(t, 1.0, recovered.East, 1e-9)
	assert.InDelta(t, 0.0, recovered.North, 1e-9)
	assert.InDelta(t, 0.0, recovered.Up, 1e-9)
}

func TestECEFToGeodeticConvergence(t *testing.T) {
	// The iteration must settle well under the 50-iteration cap everywhere
	// below the near-pole cutoff. A cap of 10 stands in for the bound.
	for lat := -89.9; lat <= 89.9; lat += 2.77 {
		p, err := GeodeticToECEF(models.GeodeticPosition{Latitude: lat, Longitude: 17.5, Height: 500})
		require.NoError(t, err)

		_, err = ECEFToGeodetic(p, 1e-12, 10)
		assert.NoError(t, err, "no convergence within 10 iterations at lat %v", lat)
	}
}

func TestECEFToGeodeticDivergence(t *testing.T) {
	p, err := GeodeticToECEF(models.GeodeticPosition{Latitude: 45, Longitude: 45, Height: 0})
	require.NoError(t, err)

	_, err = ECEFToGeodetic(p, 1e-12, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumericDivergence)
}

func TestInvalidPositions(t *testing.T) {
	testCases := []struct {
		name string
		pos  models.GeodeticPosition
	}{
		{"NaN latitude", models.GeodeticPosition{Latitude: math.NaN(), Longitude: 0}},
		{"Inf longitude", models.GeodeticPosition{Latitude: 0, Longitude: math.Inf(1)}},
		{"Latitude over 90", models.GeodeticPosition{Latitude: 90.01, Longitude: 0}},
		{"Longitude under -180", models.GeodeticPosition{Latitude: 0, Longitude: -180.5}},
		{"NaN height", models.GeodeticPosition{Latitude: 0, Longitude: 0, Height: math.NaN()}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GeodeticToECEF(tc.pos)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPosition)
		})
	}
}

func TestSmallOffsetApproxAgainstExact(t *testing.T) {
	// For offsets of tens of meters the linearized path must agree with the
	// exact ECEF round trip to well under a millimeter.
	ref := models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370}
	offsets := []models.EnuVector{
		{East: 5, North: 10, Up: 0},
		{East: -50, North: 25, Up: 3},
		{East: 100, North: -100, Up: -10},
	}

	for _, v := range offsets {
		approx, err := SmallOffsetApprox(ref, v)
		require.NoError(t, err)

		pc, err := GeodeticToECEF(ref)
		require.NoError(t, err)
		exact, err := ECEFToGeodetic(pc.Add(ENUDeltaToECEF(v, ref.Latitude, ref.Longitude)), 0, 0)
		require.NoError(t, err)

		// 1e-8 degrees is about a millimeter of ground distance.
		assert.InDelta(t, exact.Latitude, approx.Latitude, 1e-8)
		assert.InDelta(t, exact.Longitude, approx.Longitude, 1e-8)
		assert.InDelta(t, exact.Height, approx.Height, 1e-3)
	}
}

func TestHaversine(t *testing.T) {
	testCases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		expected               float64
		delta                  float64
	}{
		{
			name: "Same point",
			lat1: 49.2781, lon1: -122.9199,
			lat2: 49.2781, lon2: -122.9199,
			expected: 0, delta: 1e-6,
		},
		{
			name: "SF to Oakland",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 37.8044, lon2: -122.2712,
			expected: 13430, delta: 200,
		},
		{
			name: "SF to LA",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 34.0522, lon2: -118.2437,
			expected: 559000, delta: 5000,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dist := Haversine(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.InDelta(t, tc.expected, dist, tc.delta)
		})
	}
}

func BenchmarkGeodeticToECEF(b *testing.B) {
	pos := models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = GeodeticToECEF(pos)
	}
}

func BenchmarkECEFToGeodetic(b *testing.B) {
	p, err := GeodeticToECEF(models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ECEFToGeodetic(p, 0, 0)
	}
}

func ExampleSmallOffsetApprox() {
	ref := models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370}
	moved, _ := SmallOffsetApprox(ref, models.EnuVector{North: 50})
	fmt.Printf("%.4f\n", moved.Latitude)
	// Output: 49.2785
}
