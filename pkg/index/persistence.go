package index

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/dhconnelly/rtreego"

	"github.com/kass/go-geo-anchor/pkg/models"
)

func worldRect() (*rtreego.Rect, error) {
	return rtreego.NewRect(rtreego.Point{-90, -180}, []float64{180, 360})
}

// indexData is the serializable form of the anchor index.
type indexData struct {
	Anchors []*models.Anchor
	Count   int64
}

// SaveToFile writes all anchors to a gob file.
func (g *AnchorIndex) SaveToFile(filename string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// rtreego has no iterator, so collect everything with a whole-world
	// search per partition.
	var anchors []*models.Anchor
	for _, tree := range g.partitions {
		world, err := worldRect()
		if err != nil {
			return err
		}
		for _, result := range tree.SearchIntersect(world) {
			if item, ok := result.(*spatialAnchor); ok {
				anchors = append(anchors, item.Anchor)
			}
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(indexData{Anchors: anchors, Count: g.itemCount.Load()}); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	return nil
}

// LoadFromFile replaces the index contents with anchors from a gob file.
func (g *AnchorIndex) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var data indexData
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	g.Clear()
	if err := g.Insert(data.Anchors); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	return nil
}
