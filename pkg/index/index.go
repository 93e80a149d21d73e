// Package index implements a thread-safe R-Tree anchor index with
// goroutine-based parallel search across longitude partitions. It serves as
// the in-memory anchor lookup collaborator; see the postgis package for the
// persistent variant.
package index

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/models"
)

const (
	tolerance   = 0.0001 // degrees; anchors are point-like
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// spatialAnchor wraps an anchor to implement the rtreego.Spatial interface.
// Anchors are indexed by the object's position, which is what an observer
// is near, not the creator's.
type spatialAnchor struct {
	*models.Anchor
	rect *rtreego.Rect
}

func (sa *spatialAnchor) Bounds() *rtreego.Rect {
	return sa.rect
}

// lonSpan covers one partition's longitude band.
type lonSpan struct {
	min, max float64
}

// AnchorIndex is a thread-safe R-Tree based anchor index, partitioned by
// longitude band so queries can fan out across CPUs.
type AnchorIndex struct {
	partitions []*rtreego.Rtree
	spans      []lonSpan
	mu         sync.RWMutex
	itemCount  atomic.Int64
}

// NewAnchorIndex creates an index with one partition per CPU.
func NewAnchorIndex() *AnchorIndex {
	return NewAnchorIndexWithPartitions(runtime.NumCPU())
}

// NewAnchorIndexWithPartitions creates an index with the given partition
// count; n <= 0 falls back to one per CPU.
func NewAnchorIndexWithPartitions(n int) *AnchorIndex {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	partitions := make([]*rtreego.Rtree, n)
	spans := make([]lonSpan, n)

	lonRange := 360.0 / float64(n)
	for i := 0; i < n; i++ {
		partitions[i] = rtreego.NewTree(dimensions, minChildren, maxChildren)

		minLon := -180.0 + float64(i)*lonRange
		maxLon := minLon + lonRange
		if i == n-1 {
			maxLon = 180.0
		}
		spans[i] = lonSpan{min: minLon, max: maxLon}
	}

	return &AnchorIndex{partitions: partitions, spans: spans}
}

// Insert adds anchors to the index. Anchors without a usable object
// position are rejected.
func (g *AnchorIndex) Insert(anchors []*models.Anchor) error {
	if len(anchors) == 0 {
		return nil
	}

	n := len(g.partitions)
	partitioned := make([][]*spatialAnchor, n)
	lonRange := 360.0 / float64(n)

	for _, anchor := range anchors {
		if anchor == nil {
			continue
		}
		pos := anchor.ObjectPosition
		if err := geodesy.ValidateLatLon(pos.Latitude, pos.Longitude); err != nil {
			return fmt.Errorf("anchor %s: %w", anchor.ID, err)
		}

		p := rtreego.Point{pos.Latitude, pos.Longitude}
		sa := &spatialAnchor{anchor, p.ToRect(tolerance)}

		idx := int((pos.Longitude + 180.0) / lonRange)
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		partitioned[idx] = append(partitioned[idx], sa)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var wg sync.WaitGroup
	var inserted atomic.Int64

	for i := 0; i < n; i++ {
		if len(partitioned[i]) == 0 {
			continue
		}

		wg.Add(1)
		go func(idx int, items []*spatialAnchor) {
			defer wg.Done()

			// Partitions are disjoint, so they can be filled independently.
			for _, item := range items {
				g.partitions[idx].Insert(item)
			}
			inserted.Add(int64(len(items)))
		}(i, partitioned[i])
	}

	wg.Wait()
	g.itemCount.Add(inserted.Load())
	return nil
}

// FindNearby returns all anchors whose object lies within radiusMeters of
// (lat, lon), ordered by ascending distance. Partitions intersecting the
// query box are searched in parallel.
func (g *AnchorIndex) FindNearby(lat, lon, radiusMeters float64) ([]*models.Anchor, error) {
	if err := geodesy.ValidateLatLon(lat, lon); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Angular radius for the coarse bounding-box pass.
	deg := (radiusMeters / geodesy.MeanEarthRadius) * (180 / math.Pi)
	relevant := g.relevantPartitions(lon-deg, lon+deg)

	type hit struct {
		anchor *models.Anchor
		dist   float64
	}
	resultsChan := make(chan []hit, len(relevant))

	for _, partitionIdx := range relevant {
		go func(idx int) {
			bounds, err := rtreego.NewRect(
				rtreego.Point{lat - deg, lon - deg},
				[]float64{2 * deg, 2 * deg},
			)
			if err != nil {
				resultsChan <- nil
				return
			}

			found := g.partitions[idx].SearchIntersect(bounds)

			// Filter box candidates by actual distance.
			hits := make([]hit, 0, len(found))
			for _, result := range found {
				item, ok := result.(*spatialAnchor)
				if !ok || item.Anchor == nil {
					continue
				}

				pos := item.ObjectPosition
				dist := geodesy.Haversine(lat, lon, pos.Latitude, pos.Longitude)
				if dist <= radiusMeters {
					hits = append(hits, hit{anchor: item.Anchor, dist: dist})
				}
			}
			resultsChan <- hits
		}(partitionIdx)
	}

	var all []hit
	for i := 0; i < len(relevant); i++ {
		all = append(all, <-resultsChan...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	anchors := make([]*models.Anchor, len(all))
	for i, h := range all {
		anchors[i] = h.anchor
	}
	return anchors, nil
}

// Nearest returns the n anchors closest to (lat, lon) across all
// partitions, ordered by ascending distance.
func (g *AnchorIndex) Nearest(lat, lon float64, n int) []*models.Anchor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	type hit struct {
		anchor *models.Anchor
		dist   float64
	}
	resultsChan := make(chan []hit, len(g.partitions))

	for i := range g.partitions {
		go func(idx int) {
			queryPoint := rtreego.Point{lat, lon}
			found := g.partitions[idx].NearestNeighbors(n, queryPoint)

			hits := make([]hit, 0, len(found))
			for _, result := range found {
				item, ok := result.(*spatialAnchor)
				if !ok || item.Anchor == nil {
					continue
				}
				pos := item.ObjectPosition
				hits = append(hits, hit{
					anchor: item.Anchor,
					dist:   geodesy.Haversine(lat, lon, pos.Latitude, pos.Longitude),
				})
			}
			resultsChan <- hits
		}(i)
	}

	var all []hit
	for range g.partitions {
		all = append(all, <-resultsChan...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	if len(all) > n {
		all = all[:n]
	}
	anchors := make([]*models.Anchor, len(all))
	for i, h := range all {
		anchors[i] = h.anchor
	}
	return anchors
}

// Count returns the number of indexed anchors.
func (g *AnchorIndex) Count() int64 {
	return g.itemCount.Load()
}

// Clear removes all anchors from the index.
func (g *AnchorIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.partitions {
		g.partitions[i] = rtreego.NewTree(dimensions, minChildren, maxChildren)
	}
	g.itemCount.Store(0)
}

// relevantPartitions returns indices of partitions whose longitude band
// intersects [minLon, maxLon].
func (g *AnchorIndex) relevantPartitions(minLon, maxLon float64) []int {
	var relevant []int
	for i, span := range g.spans {
		if minLon <= span.max && maxLon >= span.min {
			relevant = append(relevant, i)
		}
	}
	return relevant
}
