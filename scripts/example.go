package main

import (
	"fmt"
	"log"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/relocate"
)

func main() {
	// A creator standing on a plaza pins a few objects around them.
	creator := models.GeodeticPosition{Latitude: 49.2781, Longitude: -122.9199, Height: 370}

	placements := []struct {
		id     string
		vector models.EnuVector
	}{
		{"fountain-note", models.EnuVector{East: 5, North: 10}},
		{"bench-marker", models.EnuVector{East: -12, North: 3, Up: 0.5}},
		{"statue-plaque", models.EnuVector{East: 0, North: 25, Up: 1.5}},
		{"cafe-sign", models.EnuVector{East: 30, North: -8, Up: 2}},
		{"far-banner", models.EnuVector{East: 150, North: 200, Up: 4}},
	}

	anchors := make([]*models.Anchor, 0, len(placements))
	for _, p := range placements {
		object, err := relocate.DeriveObjectPosition(creator, p.vector)
		if err != nil {
			log.Fatal(err)
		}
		anchors = append(anchors, &models.Anchor{
			ID:              p.id,
			CreatorPosition: creator,
			CreatorToObject: p.vector,
			ObjectPosition:  object,
		})
	}

	idx := index.NewAnchorIndex()
	if err := idx.Insert(anchors); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Indexed %d anchors\n\n", idx.Count())

	// Example 1: another observer 40 m north-east of the creator looks up
	// the anchors within 50 m of themselves.
	fmt.Println("=== Anchors within 50 m of the observer ===")
	observer, err := geodesy.SmallOffsetApprox(creator, models.EnuVector{East: 30, North: 30})
	if err != nil {
		log.Fatal(err)
	}

	nearby, err := idx.FindNearby(observer.Latitude, observer.Longitude, 50)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Found %d anchors near (%.4f, %.4f):\n", len(nearby), observer.Latitude, observer.Longitude)
	for _, a := range nearby {
		d := geodesy.Haversine(observer.Latitude, observer.Longitude,
			a.ObjectPosition.Latitude, a.ObjectPosition.Longitude)
		fmt.Printf("  - %s: %.1f m away\n", a.ID, d)
	}

	// Example 2: re-express each creator vector in the observer's frame.
	fmt.Println("\n=== Vectors in the observer's local frame ===")
	resolved, err := relocate.ResolveBatch(nearby, observer, 0)
	if err != nil {
		log.Fatal(err)
	}
	for _, ra := range resolved {
		fmt.Printf("  - %s: e=%+.2f n=%+.2f u=%+.2f\n",
			ra.AnchorID, ra.Vector.East, ra.Vector.North, ra.Vector.Up)
	}

	// Example 3: the 3 anchors nearest to the creator.
	fmt.Println("\n=== 3 nearest anchors to the creator ===")
	for i, a := range idx.Nearest(creator.Latitude, creator.Longitude, 3) {
		d := geodesy.Haversine(creator.Latitude, creator.Longitude,
			a.ObjectPosition.Latitude, a.ObjectPosition.Longitude)
		fmt.Printf("  %d. %s: %.1f m away\n", i+1, a.ID, d)
	}

	// Save the index
	fmt.Println("\n=== Saving Index ===")
	if err := idx.SaveToFile("plaza.gob"); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Index saved to plaza.gob")

	// Load the index
	fmt.Println("\n=== Loading Index ===")
	fresh := index.NewAnchorIndex()
	if err := fresh.LoadFromFile("plaza.gob"); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Loaded index with %d anchors\n", fresh.Count())
}
