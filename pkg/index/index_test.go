package index

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geo-anchor/pkg/models"
)

func anchorAt(id string, lat, lon float64) *models.Anchor {
	return &models.Anchor{
		ID:              id,
		CreatorPosition: models.GeodeticPosition{Latitude: lat, Longitude: lon, Height: 370},
		ObjectPosition:  models.GeodeticPosition{Latitude: lat, Longitude: lon, Height: 370},
	}
}

func TestNewAnchorIndex(t *testing.T) {
	idx := NewAnchorIndex()
	assert.NotNil(t, idx)
	assert.NotEmpty(t, idx.partitions)
	assert.Equal(t, int64(0), idx.Count())
}

func TestInsertAndCount(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(4)

	anchors := []*models.Anchor{
		anchorAt("sfu", 49.2781, -122.9199),
		anchorAt("downtown", 49.2827, -123.1207),
		anchorAt("nil-slot", 0, 0),
		nil, // dropped silently
	}

	err := idx.Insert(anchors)
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx.Count())
}

func TestInsertRejectsInvalidAnchor(t *testing.T) {
	idx := NewAnchorIndex()

	err := idx.Insert([]*models.Anchor{anchorAt("bad", 95, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, int64(0), idx.Count())
}

func TestFindNearbyOrderedByDistance(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(4)

	// Objects at increasing distances north of the reference.
	base := 49.2781
	degPerMeter := 1.0 / 111195.0 // mean-sphere meters per degree of latitude
	anchors := []*models.Anchor{
		anchorAt("at-90m", base+90*degPerMeter, -122.9199),
		anchorAt("at-10m", base+10*degPerMeter, -122.9199),
		anchorAt("at-50m", base+50*degPerMeter, -122.9199),
		anchorAt("at-2km", base+2000*degPerMeter, -122.9199),
	}
	require.NoError(t, idx.Insert(anchors))

	results, err := idx.FindNearby(base, -122.9199, 100)
	require.NoError(t, err)
	require.Len(t, results, 3) // the 2 km anchor is outside the radius

	assert.Equal(t, "at-10m", results[0].ID)
	assert.Equal(t, "at-50m", results[1].ID)
	assert.Equal(t, "at-90m", results[2].ID)
}

func TestFindNearbyRadiusFiltering(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(4)

	sfLat, sfLon := 37.7749, -122.4194
	anchors := []*models.Anchor{
		anchorAt("SF", sfLat, sfLon),
		anchorAt("Oakland", 37.8044, -122.2712),    // ~13 km
		anchorAt("San Jose", 37.3382, -121.8863),   // ~48 km
		anchorAt("Sacramento", 38.5816, -121.4944), // ~120 km
	}
	require.NoError(t, idx.Insert(anchors))

	testCases := []struct {
		name     string
		radiusM  float64
		expected []string
	}{
		{"10km radius", 10_000, []string{"SF"}},
		{"20km radius", 20_000, []string{"SF", "Oakland"}},
		{"80km radius", 80_000, []string{"SF", "Oakland", "San Jose"}},
		{"150km radius", 150_000, []string{"SF", "Oakland", "San Jose", "Sacramento"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results, err := idx.FindNearby(sfLat, sfLon, tc.radiusM)
			require.NoError(t, err)
			require.Len(t, results, len(tc.expected))

			// FindNearby orders ascending, so the lists match directly.
			for i, id := range tc.expected {
				assert.Equal(t, id, results[i].ID)
			}
		})
	}
}

func TestFindNearbyRejectsInvalidCenter(t *testing.T) {
	idx := NewAnchorIndex()
	_, err := idx.FindNearby(95, 0, 100)
	assert.Error(t, err)
}

func TestNearest(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(2)

	var anchors []*models.Anchor
	for i := 0; i < 10; i++ {
		anchors = append(anchors, anchorAt(fmt.Sprintf("a%d", i), 49.0+float64(i)*0.01, -122.9))
	}
	require.NoError(t, idx.Insert(anchors))

	nearest := idx.Nearest(49.0, -122.9, 3)
	require.Len(t, nearest, 3)
	assert.Equal(t, "a0", nearest[0].ID)
	assert.Equal(t, "a1", nearest[1].ID)
	assert.Equal(t, "a2", nearest[2].ID)
}

func TestPersistenceRoundTrip(t *testing.T) {
	idx1 := NewAnchorIndexWithPartitions(4)
	require.NoError(t, idx1.Insert(randomAnchors(200)))

	tempFile := fmt.Sprintf("%s/anchors_%d.gob", t.TempDir(), time.Now().UnixNano())
	require.NoError(t, idx1.SaveToFile(tempFile))

	idx2 := NewAnchorIndexWithPartitions(4)
	require.NoError(t, idx2.LoadFromFile(tempFile))

	assert.Equal(t, idx1.Count(), idx2.Count())

	r1, err := idx1.FindNearby(40, -100, 500_000)
	require.NoError(t, err)
	r2, err := idx2.FindNearby(40, -100, 500_000)
	require.NoError(t, err)
	assert.Equal(t, len(r1), len(r2))
}

func TestClear(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(2)
	require.NoError(t, idx.Insert(randomAnchors(50)))
	require.Equal(t, int64(50), idx.Count())

	idx.Clear()
	assert.Equal(t, int64(0), idx.Count())

	results, err := idx.FindNearby(40, -100, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestConcurrentQueries(t *testing.T) {
	idx := NewAnchorIndexWithPartitions(4)
	require.NoError(t, idx.Insert(randomAnchors(5000)))

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			defer func() { done <- true }()

			lat := rand.Float64()*20 + 30
			lon := rand.Float64()*40 - 120
			_, err := idx.FindNearby(lat, lon, rand.Float64()*100_000+1000)
			assert.NoError(t, err)
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}

func randomAnchors(n int) []*models.Anchor {
	anchors := make([]*models.Anchor, n)
	for i := 0; i < n; i++ {
		lat := rand.Float64()*20 + 30  // 30-50
		lon := rand.Float64()*40 - 120 // -120 to -80
		anchors[i] = anchorAt(fmt.Sprintf("anchor_%d", i), lat, lon)
	}
	return anchors
}

func BenchmarkInsert(b *testing.B) {
	anchors := randomAnchors(10000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		idx := NewAnchorIndex()
		_ = idx.Insert(anchors)
	}
}

func BenchmarkFindNearby(b *testing.B) {
	idx := NewAnchorIndex()
	_ = idx.Insert(randomAnchors(100000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lat := rand.Float64()*20 + 30
		lon := rand.Float64()*40 - 120
		_, _ = idx.FindNearby(lat, lon, 50_000)
	}
}
