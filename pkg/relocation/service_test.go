package relocation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/relocate"
)

const (
	refLat = 49.2781
	refLon = -122.9199
)

func northOf(lat, meters float64) float64 {
	return lat + (meters/geodesy.MeanEarthRadius)*180/math.Pi
}

type anchorSourceFunc func(lat, lon, radiusMeters float64) ([]*models.Anchor, error)

func (f anchorSourceFunc) FindNearby(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
	return f(lat, lon, radiusMeters)
}

func TestHandleSampleFirstPosition(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil)
	sess := svc.NewSession()

	assert.NotEmpty(t, sess.ID)

	update, err := svc.HandleSample(sess, refLat, refLon)
	require.NoError(t, err)
	assert.Equal(t, proximity.EventPositionRecorded, update.Event)
	assert.Equal(t, proximity.StateSettled, update.State)
	assert.Nil(t, update.ResolvedAssets)
}

func TestHandleSampleBoundaryCrossingResolvesAnchors(t *testing.T) {
	// Anchors placed where the observer will end up.
	creator := models.GeodeticPosition{Latitude: refLat, Longitude: refLon, Height: 370}
	idx := index.NewAnchorIndexWithPartitions(2)

	var anchors []*models.Anchor
	for i, v := range []models.EnuVector{
		{East: 5, North: 10},
		{East: -20, North: 160}, // near the post-crossing position
	} {
		obj, err := relocate.DeriveObjectPosition(creator, v)
		require.NoError(t, err)
		anchors = append(anchors, &models.Anchor{
			ID:              []string{"near-origin", "near-crossing"}[i],
			CreatorPosition: creator,
			CreatorToObject: v,
			ObjectPosition:  obj,
		})
	}
	require.NoError(t, idx.Insert(anchors))

	svc := NewService(DefaultConfig(), idx, nil, nil)
	sess := svc.NewSession()

	_, err := svc.HandleSample(sess, refLat, refLon)
	require.NoError(t, err)

	// Walk 150 m north: out of range, and only the anchor within the
	// 100 m nearby radius of the new position comes back.
	update, err := svc.HandleSample(sess, northOf(refLat, 150), refLon)
	require.NoError(t, err)
	assert.Equal(t, proximity.EventBoundaryCrossed, update.Event)
	require.Len(t, update.ResolvedAssets, 1)

	resolved := update.ResolvedAssets[0]
	assert.Equal(t, "near-crossing", resolved.AnchorID)
	assert.Equal(t, update.Position, resolved.Observer)

	// From 150 m north of the creator, an object 160 m north of the
	// creator sits about 10 m north of the observer.
	assert.InDelta(t, -20, resolved.Vector.East, 0.5)
	assert.InDelta(t, 10, resolved.Vector.North, 0.5)
}

func TestHandleSampleNoAssetsWithoutCrossing(t *testing.T) {
	called := false
	source := anchorSourceFunc(func(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
		called = true
		return nil, nil
	})

	svc := NewService(DefaultConfig(), source, nil, nil)
	sess := svc.NewSession()

	_, err := svc.HandleSample(sess, refLat, refLon)
	require.NoError(t, err)

	update, err := svc.HandleSample(sess, northOf(refLat, 20), refLon)
	require.NoError(t, err)
	assert.Equal(t, proximity.EventPositionUpdated, update.Event)
	assert.False(t, called, "anchor lookup must only run on boundary crossings")
}

func TestHandleSampleLookupFailureDegrades(t *testing.T) {
	source := anchorSourceFunc(func(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
		return nil, errors.New("store offline")
	})

	svc := NewService(DefaultConfig(), source, nil, nil)
	sess := svc.NewSession()

	_, err := svc.HandleSample(sess, refLat, refLon)
	require.NoError(t, err)

	// The crossing itself still reaches the caller, just without assets.
	update, err := svc.HandleSample(sess, northOf(refLat, 150), refLon)
	require.NoError(t, err)
	assert.Equal(t, proximity.EventBoundaryCrossed, update.Event)
	assert.Equal(t, proximity.StateOutOfRange, sess.State)
	assert.Nil(t, update.ResolvedAssets)
}

func TestPlaceAnchor(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil)
	creator := models.GeodeticPosition{Latitude: refLat, Longitude: refLon, Height: 370}
	vector := models.EnuVector{East: 5, North: 10}

	anchor, err := svc.PlaceAnchor(creator, vector)
	require.NoError(t, err)
	assert.NotEmpty(t, anchor.ID)
	assert.Equal(t, creator, anchor.CreatorPosition)
	assert.Equal(t, vector, anchor.CreatorToObject)

	expected, err := relocate.DeriveObjectPosition(creator, vector)
	require.NoError(t, err)
	assert.Equal(t, expected, anchor.ObjectPosition)
}

func TestPlaceAnchorUsesInverseSettings(t *testing.T) {
	creator := models.GeodeticPosition{Latitude: refLat, Longitude: refLon, Height: 370}
	vector := models.EnuVector{North: 50}

	// A one-iteration cap cannot reach the default tolerance.
	cfg := DefaultConfig()
	cfg.InverseMaxIterations = 1
	_, err := NewService(cfg, nil, nil, nil).PlaceAnchor(creator, vector)
	require.Error(t, err)
	assert.ErrorIs(t, err, geodesy.ErrNumericDivergence)

	// A loose tolerance converges under the same cap.
	cfg.InverseToleranceRadians = 1
	anchor, err := NewService(cfg, nil, nil, nil).PlaceAnchor(creator, vector)
	require.NoError(t, err)
	assert.InDelta(t, refLat, anchor.ObjectPosition.Latitude, 0.01)
}

func TestHandleSampleInvalidSample(t *testing.T) {
	svc := NewService(DefaultConfig(), nil, nil, nil)
	sess := svc.NewSession()

	_, err := svc.HandleSample(sess, math.NaN(), refLon)
	require.Error(t, err)
	assert.ErrorIs(t, err, geodesy.ErrInvalidPosition)
	assert.Equal(t, proximity.StateInitializing, sess.State)
}

func TestNearbyRadiusConfig(t *testing.T) {
	var gotRadius float64
	source := anchorSourceFunc(func(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
		gotRadius = radiusMeters
		return nil, nil
	})

	cfg := DefaultConfig()
	cfg.NearbyRadiusMeters = 250
	svc := NewService(cfg, source, nil, nil)
	sess := svc.NewSession()

	_, err := svc.HandleSample(sess, refLat, refLon)
	require.NoError(t, err)
	_, err = svc.HandleSample(sess, northOf(refLat, 300), refLon)
	require.NoError(t, err)

	assert.Equal(t, 250.0, gotRadius)
}
