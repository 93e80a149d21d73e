// Package relocate re-expresses anchored offsets in another observer's
// local ENU frame. All functions are pure and safe to call concurrently.
package relocate

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/models"
)

// ResolveObserverVector takes the position an object was anchored at, the
// creator->object offset in the creator's ENU frame, and an observer
// position, and returns the observer->object offset in the observer's ENU
// frame. When observer equals creator the input vector comes back unchanged
// to within numeric tolerance.
//
// The object is carried through ECEF: anchor the creator, rotate the offset
// into ECEF, add, subtract the observer, rotate back.
func ResolveObserverVector(creator models.GeodeticPosition, creatorToObject models.EnuVector, observer models.GeodeticPosition) (models.EnuVector, error) {
	if err := geodesy.ValidatePosition(creator); err != nil {
		return models.EnuVector{}, fmt.Errorf("creator: %w", err)
	}
	if err := geodesy.ValidatePosition(observer); err != nil {
		return models.EnuVector{}, fmt.Errorf("observer: %w", err)
	}
	if err := validateVector(creatorToObject); err != nil {
		return models.EnuVector{}, err
	}

	creatorECEF, err := geodesy.GeodeticToECEF(creator)
	if err != nil {
		return models.EnuVector{}, err
	}
	objectECEF := creatorECEF.Add(geodesy.ENUDeltaToECEF(creatorToObject, creator.Latitude, creator.Longitude))

	observerECEF, err := geodesy.GeodeticToECEF(observer)
	if err != nil {
		return models.EnuVector{}, err
	}

	delta := objectECEF.Sub(observerECEF)
	return geodesy.ECEFDeltaToENU(delta, observer.Latitude, observer.Longitude), nil
}

// ResolveAnchor resolves a single anchor for the given observer.
func ResolveAnchor(a *models.Anchor, observer models.GeodeticPosition) (*models.ResolvedAnchor, error) {
	v, err := ResolveObserverVector(a.CreatorPosition, a.CreatorToObject, observer)
	if err != nil {
		return nil, fmt.Errorf("anchor %s: %w", a.ID, err)
	}
	return &models.ResolvedAnchor{AnchorID: a.ID, Observer: observer, Vector: v}, nil
}

// ResolveBatch resolves every anchor for the same observer, fanning out
// across workers. Results keep the input order. workers <= 0 uses one
// worker per CPU.
func ResolveBatch(anchors []*models.Anchor, observer models.GeodeticPosition, workers int) ([]*models.ResolvedAnchor, error) {
	if len(anchors) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(anchors) {
		workers = len(anchors)
	}

	resolved := make([]*models.ResolvedAnchor, len(anchors))
	errs := make([]error, len(anchors))

	batchSize := len(anchors) / workers
	if batchSize < 1 {
		batchSize = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * batchSize
		end := start + batchSize
		if w == workers-1 {
			end = len(anchors)
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				resolved[i], errs[i] = ResolveAnchor(anchors[i], observer)
			}
		}(start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// DeriveObjectPosition returns the geodetic position of the object an
// anchor points at, for storage alongside the anchor, using the default
// inverse-conversion settings.
func DeriveObjectPosition(creator models.GeodeticPosition, creatorToObject models.EnuVector) (models.GeodeticPosition, error) {
	return DeriveObjectPositionAt(creator, creatorToObject, 0, 0)
}

// DeriveObjectPositionAt is DeriveObjectPosition with explicit settings for
// the inverse conversion. Zero tolerance or maxIterations take the geodesy
// defaults.
func DeriveObjectPositionAt(creator models.GeodeticPosition, creatorToObject models.EnuVector, tolerance float64, maxIterations int) (models.GeodeticPosition, error) {
	if err := geodesy.ValidatePosition(creator); err != nil {
		return models.GeodeticPosition{}, err
	}
	if err := validateVector(creatorToObject); err != nil {
		return models.GeodeticPosition{}, err
	}

	creatorECEF, err := geodesy.GeodeticToECEF(creator)
	if err != nil {
		return models.GeodeticPosition{}, err
	}
	objectECEF := creatorECEF.Add(geodesy.ENUDeltaToECEF(creatorToObject, creator.Latitude, creator.Longitude))
	return geodesy.ECEFToGeodetic(objectECEF, tolerance, maxIterations)
}

func validateVector(v models.EnuVector) error {
	for _, c := range []float64{v.East, v.North, v.Up} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite enu vector (%v, %v, %v)",
				geodesy.ErrInvalidPosition, v.East, v.North, v.Up)
		}
	}
	return nil
}
