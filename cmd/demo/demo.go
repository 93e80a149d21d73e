package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/relocation"
)

var (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorPurple = "\033[35m"
	colorBold   = "\033[1m"
)

func init() {
	// Disable colors if not in a terminal
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		colorReset = ""
		colorRed = ""
		colorGreen = ""
		colorYellow = ""
		colorCyan = ""
		colorPurple = ""
		colorBold = ""
	}
}

func printTitle(title string) {
	fmt.Printf("\n%s%s🌍 %s%s\n", colorBold, colorPurple, title, colorReset)
	fmt.Println(strings.Repeat("=", 60))
}

func printSubtitle(subtitle string) {
	fmt.Printf("\n%s%s%s%s\n", colorBold, colorCyan, subtitle, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓ %s%s\n", colorGreen, message, colorReset)
}

func printInfo(message string) {
	fmt.Printf("%s• %s%s\n", colorYellow, message, colorReset)
}

func printStat(label string, value interface{}) {
	fmt.Printf("  %s%s:%s %s%v%s\n", colorBold, label, colorReset, colorYellow, value, colorReset)
}

// runPlainDemo is the no-TUI renderer: same seed-then-walk sequence as the
// bubbletea program, printed line by line.
func runPlainDemo() {
	printTitle("Geo-Anchor Demo")

	center := models.GeodeticPosition{
		Latitude:  config.Demo.CenterLat,
		Longitude: config.Demo.CenterLon,
		Height:    370,
	}

	printSubtitle("Seeding Anchors")
	start := time.Now()
	idx := index.NewAnchorIndex()
	anchors := seedAnchors(center, config.Demo.Anchors, nil)
	if err := idx.Insert(anchors); err != nil {
		log.Fatalf("Failed to index anchors: %v", err)
	}
	printSuccess(fmt.Sprintf("Indexed %d anchors in %v", idx.Count(), time.Since(start)))

	printSubtitle("Walking the Observer")
	cfg := relocation.DefaultConfig()
	cfg.BoundaryThresholdMeters = config.Demo.ThresholdMeters
	svc := relocation.NewService(cfg, idx, nil, nil)
	sess := svc.NewSession()

	var crossings, returns, resolved int
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	pos := center
	for i := 0; i <= config.Demo.Steps; i++ {
		update, err := svc.HandleSample(sess, pos.Latitude, pos.Longitude)
		if err != nil {
			log.Fatalf("Sample rejected: %v", err)
		}

		switch update.Event {
		case proximity.EventBoundaryCrossed:
			crossings++
			resolved += len(update.ResolvedAssets)
			fmt.Printf("%s! step %2d  d=%7.2f m  %-16s %s  → %d assets relocated%s\n",
				colorRed, i, update.DistanceMeters, update.Event, update.State,
				len(update.ResolvedAssets), colorReset)
		case proximity.EventReturnedInRange:
			returns++
			fmt.Printf("%s< step %2d  d=%7.2f m  %-16s %s%s\n",
				colorGreen, i, update.DistanceMeters, update.Event, update.State, colorReset)
		default:
			fmt.Printf("  step %2d  d=%7.2f m  %-16s %s\n",
				i, update.DistanceMeters, update.Event, update.State)
		}

		pos = nextStep(r, pos, sess)
	}

	printTitle("Demo Complete! 🎉")
	printStat("Anchors indexed", idx.Count())
	printStat("Boundary crossings", crossings)
	printStat("Returns in range", returns)
	printStat("Observer vectors resolved", resolved)
	printInfo("Every crossing refreshed the nearby anchors for the new position")
	fmt.Println()
}

func nextStep(r *rand.Rand, pos models.GeodeticPosition, sess *proximity.Session) models.GeodeticPosition {
	north := config.Demo.StepMeters
	if r.Float64() < 0.25 && sess.State == proximity.StateOutOfRange {
		north = -north * 2
	}
	next, err := stepFrom(pos, (r.Float64()*2-1)*config.Demo.StepMeters/2, north)
	if err != nil {
		return pos
	}
	return next
}
