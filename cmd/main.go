package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kass/go-geo-anchor/pkg/gateway"
	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/index"
	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/postgis"
	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/refine"
	"github.com/kass/go-geo-anchor/pkg/relocate"
	"github.com/kass/go-geo-anchor/pkg/relocation"
)

var (
	indexFile string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "geo-anchor",
	Short: "Geodetic anchor relocation engine",
	Long: `Anchors digital objects at real-world positions and recomputes the
local offset vectors other observers must render them at.`,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Generate random anchors and save the index",
	Long:  `Generate anchors with random offsets around a center position and save the R-Tree index to disk.`,
	RunE:  runLoad,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one creator vector for an observer",
	Long:  `Re-express a creator->object ENU vector in the local frame of an observer at another position.`,
	RunE:  runResolve,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Walk an observer through the proximity state machine",
	Long:  `Feed a scripted walk into the proximity state machine and print the emitted events.`,
	RunE:  runSimulate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the relocation engine over WebSocket",
	Long:  `Start the session gateway: /ws for position streams, /metrics for Prometheus, /healthz.`,
	RunE:  runServe,
}

var (
	numAnchors  int
	centerLat   float64
	centerLon   float64
	spread      float64
	seed        int64
	inverseTol  float64
	inverseIter int

	creatorLat  float64
	creatorLon  float64
	creatorH    float64
	east        float64
	north       float64
	up          float64
	observerLat float64
	observerLon float64
	observerH   float64

	steps      int
	stepMeters float64
	threshold  float64

	configFile string
	listenAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&indexFile, "file", "f", "anchors.gob", "Anchor index file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	loadCmd.Flags().IntVarP(&numAnchors, "anchors", "n", 10000, "Number of anchors to generate")
	loadCmd.Flags().Float64Var(&centerLat, "lat", 49.2781, "Center latitude")
	loadCmd.Flags().Float64Var(&centerLon, "lon", -122.9199, "Center longitude")
	loadCmd.Flags().Float64Var(&spread, "spread", 2000, "Spread around the center in meters")
	loadCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	loadCmd.Flags().Float64Var(&inverseTol, "inverse-tolerance", 0, "Inverse conversion tolerance in radians (0 = default)")
	loadCmd.Flags().IntVar(&inverseIter, "inverse-max-iter", 0, "Inverse conversion iteration cap (0 = default)")
	loadCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file; anchors go to PostGIS when it is enabled there")

	resolveCmd.Flags().Float64Var(&creatorLat, "creator-lat", 49.2781, "Creator latitude")
	resolveCmd.Flags().Float64Var(&creatorLon, "creator-lon", -122.9199, "Creator longitude")
	resolveCmd.Flags().Float64Var(&creatorH, "creator-height", 370, "Creator height in meters")
	resolveCmd.Flags().Float64VarP(&east, "east", "e", 5, "Creator->object east component")
	resolveCmd.Flags().Float64Var(&north, "north", 10, "Creator->object north component")
	resolveCmd.Flags().Float64VarP(&up, "up", "u", 0, "Creator->object up component")
	resolveCmd.Flags().Float64Var(&observerLat, "observer-lat", 49.2790, "Observer latitude")
	resolveCmd.Flags().Float64Var(&observerLon, "observer-lon", -122.9180, "Observer longitude")
	resolveCmd.Flags().Float64Var(&observerH, "observer-height", 370, "Observer height in meters")

	simulateCmd.Flags().Float64Var(&centerLat, "lat", 49.2781, "Start latitude")
	simulateCmd.Flags().Float64Var(&centerLon, "lon", -122.9199, "Start longitude")
	simulateCmd.Flags().IntVar(&steps, "steps", 30, "Number of steps to walk")
	simulateCmd.Flags().Float64Var(&stepMeters, "step", 10, "Meters walked north per step")
	simulateCmd.Flags().Float64Var(&threshold, "threshold", 50, "Boundary threshold in meters")

	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Listen address")

	rootCmd.AddCommand(loadCmd, resolveCmd, simulateCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	fmt.Printf("Generating %d anchors within %.0f m of (%.4f, %.4f)...\n",
		numAnchors, spread, centerLat, centerLon)

	r := rand.New(rand.NewSource(seed))
	center := models.GeodeticPosition{Latitude: centerLat, Longitude: centerLon, Height: 370}

	cfg := serveConfig{Engine: relocation.DefaultConfig()}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	// Flags override the config file.
	if inverseTol > 0 {
		cfg.Engine.InverseToleranceRadians = inverseTol
	}
	if inverseIter > 0 {
		cfg.Engine.InverseMaxIterations = inverseIter
	}
	svc := relocation.NewService(cfg.Engine, nil, nil, nil)

	start := time.Now()
	anchors := make([]*models.Anchor, 0, numAnchors)
	for i := 0; i < numAnchors; i++ {
		// Place the creator somewhere in the spread, then the object a few
		// meters away from them.
		creatorOffset := models.EnuVector{
			East:  (r.Float64()*2 - 1) * spread,
			North: (r.Float64()*2 - 1) * spread,
		}
		creator, err := geodesy.SmallOffsetApprox(center, creatorOffset)
		if err != nil {
			return err
		}

		vector := models.EnuVector{
			East:  (r.Float64()*2 - 1) * 20,
			North: (r.Float64()*2 - 1) * 20,
			Up:    r.Float64() * 3,
		}
		anchor, err := svc.PlaceAnchor(creator, vector)
		if err != nil {
			return err
		}
		anchors = append(anchors, anchor)
	}

	if cfg.PostGIS.Enabled {
		return loadPostGIS(cfg, anchors, start)
	}

	idx := index.NewAnchorIndex()
	if err := idx.Insert(anchors); err != nil {
		return err
	}
	fmt.Printf("Indexed %d anchors in %v\n", idx.Count(), time.Since(start))

	if err := idx.SaveToFile(indexFile); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	fmt.Printf("Index saved to %s\n", indexFile)
	return nil
}

func loadPostGIS(cfg serveConfig, anchors []*models.Anchor, start time.Time) error {
	store, err := postgis.NewAnchorStore(cfg.PostGIS.Host, cfg.PostGIS.User,
		cfg.PostGIS.Password, cfg.PostGIS.Database, cfg.PostGIS.Port)
	if err != nil {
		return fmt.Errorf("failed to connect to postgis: %w", err)
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		return err
	}
	if err := store.InsertAnchors(anchors); err != nil {
		return err
	}
	if err := store.CreateSpatialIndex(); err != nil {
		return err
	}

	count, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("Stored %d anchors in PostGIS in %v\n", count, time.Since(start))

	if stats, err := store.Stats(); err == nil {
		fmt.Printf("Database size: %v\n", stats["database_size"])
		fmt.Printf("Table size:    %v\n", stats["table_size"])
		fmt.Printf("Index size:    %v\n", stats["index_size"])
	}
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	creator := models.GeodeticPosition{Latitude: creatorLat, Longitude: creatorLon, Height: creatorH}
	observer := models.GeodeticPosition{Latitude: observerLat, Longitude: observerLon, Height: observerH}
	vector := models.EnuVector{East: east, North: north, Up: up}

	resolved, err := relocate.ResolveObserverVector(creator, vector, observer)
	if err != nil {
		return err
	}

	fmt.Printf("Creator   (%.6f, %.6f, %.1f m)\n", creatorLat, creatorLon, creatorH)
	fmt.Printf("Observer  (%.6f, %.6f, %.1f m)\n", observerLat, observerLon, observerH)
	fmt.Printf("Creator vector   e=%.3f n=%.3f u=%.3f\n", east, north, up)
	fmt.Printf("Observer vector  e=%.3f n=%.3f u=%.3f\n", resolved.East, resolved.North, resolved.Up)
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg := proximity.DefaultConfig()
	cfg.BoundaryThresholdMeters = threshold
	tracker := proximity.NewTracker(cfg, nil, newLogger())
	session := proximity.NewSession(uuid.NewString())

	pos := models.GeodeticPosition{Latitude: centerLat, Longitude: centerLon, Height: cfg.DefaultHeightMeters}
	fmt.Printf("Walking %d steps of %.1f m north from (%.4f, %.4f), threshold %.1f m\n\n",
		steps, stepMeters, centerLat, centerLon, threshold)

	for i := 0; i <= steps; i++ {
		update, err := tracker.Observe(session, pos.Latitude, pos.Longitude)
		if err != nil {
			return err
		}

		marker := " "
		switch update.Event {
		case proximity.EventBoundaryCrossed:
			marker = "!"
		case proximity.EventReturnedInRange:
			marker = "<"
		}
		fmt.Printf("%s step %2d  d=%8.2f m  %-15s %s\n",
			marker, i, update.DistanceMeters, update.Event, update.State)

		next, err := geodesy.SmallOffsetApprox(pos, models.EnuVector{North: stepMeters})
		if err != nil {
			return err
		}
		pos = next
	}
	return nil
}

// serveConfig is the YAML shape for the serve command.
type serveConfig struct {
	Listen    string            `yaml:"listen"`
	IndexFile string            `yaml:"index_file"`
	Engine    relocation.Config `yaml:"engine"`
	Refiner   struct {
		URL       string `yaml:"url"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"refiner"`
	PostGIS struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"postgis"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := serveConfig{Listen: listenAddr, IndexFile: indexFile, Engine: relocation.DefaultConfig()}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}

	log := newLogger()
	defer log.Sync()

	var source relocation.AnchorSource
	if cfg.PostGIS.Enabled {
		store, err := postgis.NewAnchorStore(cfg.PostGIS.Host, cfg.PostGIS.User,
			cfg.PostGIS.Password, cfg.PostGIS.Database, cfg.PostGIS.Port)
		if err != nil {
			return fmt.Errorf("failed to connect to postgis: %w", err)
		}
		defer store.Close()
		source = store
		log.Info("using postgis anchor store", zap.String("host", cfg.PostGIS.Host))
	} else {
		idx := index.NewAnchorIndex()
		if err := idx.LoadFromFile(cfg.IndexFile); err != nil {
			log.Warn("starting with an empty index", zap.String("file", cfg.IndexFile), zap.Error(err))
		}
		source = idx
		log.Info("using in-memory anchor index", zap.Int64("anchors", idx.Count()))
	}

	var refiner proximity.Refiner
	if cfg.Refiner.URL != "" {
		refiner = refine.NewClient(cfg.Refiner.URL, time.Duration(cfg.Refiner.TimeoutMs)*time.Millisecond)
		log.Info("using refinement service", zap.String("url", cfg.Refiner.URL))
	}

	svc := relocation.NewService(cfg.Engine, source, refiner, log)
	gw := gateway.New(svc, log)

	log.Info("gateway listening", zap.String("addr", cfg.Listen))
	return http.ListenAndServe(cfg.Listen, gw.Handler())
}

func newLogger() *zap.Logger {
	if verbose {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
