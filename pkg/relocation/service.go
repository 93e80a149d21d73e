// Package relocation wires the proximity tracker, the anchor lookup
// collaborator and the vector resolver into one position-sample pipeline.
package relocation

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kass/go-geo-anchor/pkg/models"
	"github.com/kass/go-geo-anchor/pkg/proximity"
	"github.com/kass/go-geo-anchor/pkg/relocate"
)

// Config is the full engine configuration. Zero fields take the defaults.
type Config struct {
	DefaultHeightMeters       float64 `yaml:"default_height_meters"`
	BoundaryThresholdMeters   float64 `yaml:"boundary_threshold_meters"`
	NearbyRadiusMeters        float64 `yaml:"nearby_radius_meters"`
	InverseToleranceRadians   float64 `yaml:"inverse_tolerance_radians"`
	InverseMaxIterations      int     `yaml:"inverse_max_iterations"`
	UseRawOnRefinementFailure bool    `yaml:"use_raw_on_refinement_failure"`
	// ResolveWorkers caps the fan-out when resolving a batch of nearby
	// anchors; 0 means one per CPU.
	ResolveWorkers int `yaml:"resolve_workers"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		DefaultHeightMeters:       370,
		BoundaryThresholdMeters:   50,
		NearbyRadiusMeters:        100,
		InverseToleranceRadians:   1e-12,
		InverseMaxIterations:      50,
		UseRawOnRefinementFailure: true,
	}
}

// AnchorSource is the anchor lookup collaborator. Results come back ordered
// by ascending distance. Implemented by index.AnchorIndex and
// postgis.AnchorStore.
type AnchorSource interface {
	FindNearby(lat, lon, radiusMeters float64) ([]*models.Anchor, error)
}

// SessionUpdate is what the transport layer forwards to the client: the
// proximity outcome plus, after a boundary crossing, the refreshed
// observer-relative vectors.
type SessionUpdate struct {
	proximity.Update
	ResolvedAssets []*models.ResolvedAnchor `json:"resolved_assets,omitempty"`
}

// Service processes position samples for observer sessions. It holds no
// per-session state; sessions are owned by their connections and passed in
// per call.
type Service struct {
	cfg     Config
	tracker *proximity.Tracker
	anchors AnchorSource
	log     *zap.Logger
}

// NewService builds a service. anchors may be nil, in which case boundary
// crossings carry no resolved assets; refiner and log may be nil.
func NewService(cfg Config, anchors AnchorSource, refiner proximity.Refiner, log *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.NearbyRadiusMeters <= 0 {
		cfg.NearbyRadiusMeters = def.NearbyRadiusMeters
	}
	if log == nil {
		log = zap.NewNop()
	}

	tracker := proximity.NewTracker(proximity.Config{
		BoundaryThresholdMeters:   cfg.BoundaryThresholdMeters,
		DefaultHeightMeters:       cfg.DefaultHeightMeters,
		UseRawOnRefinementFailure: cfg.UseRawOnRefinementFailure,
	}, refiner, log)

	return &Service{cfg: cfg, tracker: tracker, anchors: anchors, log: log}
}

// NewSession creates a session with a fresh opaque id.
func (s *Service) NewSession() *proximity.Session {
	return proximity.NewSession(uuid.NewString())
}

// PlaceAnchor pins an object at an ENU offset from its creator and derives
// the object's geodetic position for storage, using the configured inverse
// conversion tolerance and iteration cap.
func (s *Service) PlaceAnchor(creator models.GeodeticPosition, creatorToObject models.EnuVector) (*models.Anchor, error) {
	object, err := relocate.DeriveObjectPositionAt(creator, creatorToObject,
		s.cfg.InverseToleranceRadians, s.cfg.InverseMaxIterations)
	if err != nil {
		return nil, err
	}
	return &models.Anchor{
		ID:              uuid.NewString(),
		CreatorPosition: creator,
		CreatorToObject: creatorToObject,
		ObjectPosition:  object,
	}, nil
}

// HandleSample runs one raw sample through the tracker and, when the
// observer crosses the boundary, refreshes and resolves the nearby anchors
// for the new position. Samples for one session must arrive in order; the
// caller owns that sequencing.
//
// A failed anchor lookup or resolution degrades the update (no assets)
// rather than failing it: the state transition already happened and the
// client still needs to hear about it.
func (s *Service) HandleSample(sess *proximity.Session, lat, lon float64) (*SessionUpdate, error) {
	update, err := s.tracker.Observe(sess, lat, lon)
	if err != nil {
		return nil, err
	}

	out := &SessionUpdate{Update: update}
	if update.Event != proximity.EventBoundaryCrossed || s.anchors == nil {
		return out, nil
	}

	pos := update.Position
	nearby, err := s.anchors.FindNearby(pos.Latitude, pos.Longitude, s.cfg.NearbyRadiusMeters)
	if err != nil {
		s.log.Warn("anchor lookup failed after boundary crossing",
			zap.String("session", sess.ID), zap.Error(err))
		return out, nil
	}

	resolved, err := relocate.ResolveBatch(nearby, pos, s.cfg.ResolveWorkers)
	if err != nil {
		s.log.Warn("vector resolution failed after boundary crossing",
			zap.String("session", sess.ID), zap.Error(err))
		return out, nil
	}

	s.log.Debug("resolved nearby anchors",
		zap.String("session", sess.ID),
		zap.Int("count", len(resolved)),
		zap.Float64("radius_m", s.cfg.NearbyRadiusMeters))

	out.ResolvedAssets = resolved
	return out, nil
}
