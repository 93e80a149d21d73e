// Package proximity tracks how far an observer has wandered from the
// reference point their surroundings were computed at, and says when the
// surroundings need to be refreshed.
package proximity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kass/go-geo-anchor/pkg/geodesy"
	"github.com/kass/go-geo-anchor/pkg/models"
)

// State of an observer session relative to its reference point.
type State int

const (
	// StateInitializing means no reference has been recorded yet. It is
	// entered once, at session start, and never again.
	StateInitializing State = iota
	// StateSettled means the observer is within the boundary threshold.
	StateSettled
	// StateOutOfRange means the observer has crossed the boundary.
	StateOutOfRange
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateSettled:
		return "Settled"
	case StateOutOfRange:
		return "OutOfRange"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalJSON encodes the state by name for the transport layer.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event emitted for a position sample.
type Event int

const (
	// EventPositionRecorded: first sample, reference recorded.
	EventPositionRecorded Event = iota
	// EventPositionUpdated: sample accepted, no state change.
	EventPositionUpdated
	// EventBoundaryCrossed: observer moved past the threshold; the caller
	// should refresh nearby anchors and resolve their vectors.
	EventBoundaryCrossed
	// EventReturnedInRange: observer came back within the threshold.
	EventReturnedInRange
)

func (e Event) String() string {
	switch e {
	case EventPositionRecorded:
		return "PositionRecorded"
	case EventPositionUpdated:
		return "PositionUpdated"
	case EventBoundaryCrossed:
		return "BoundaryCrossed"
	case EventReturnedInRange:
		return "ReturnedInRange"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// MarshalJSON encodes the event by name for the transport layer.
func (e Event) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

// ErrRefinementUnavailable reports that the external refinement collaborator
// failed and the configured policy forbids falling back to the raw sample.
// It never propagates past the tracker's caller.
var ErrRefinementUnavailable = errors.New("position refinement unavailable")

// Refiner maps a raw GPS fix to a corrected one. Implemented by an external
// triangulation service; see the refine package.
type Refiner interface {
	Refine(lat, lon float64) (refinedLat, refinedLon float64, err error)
}

// Config controls the tracker. Zero fields take the defaults.
type Config struct {
	// BoundaryThresholdMeters is the distance from the reference beyond
	// which the observer is out of range. The boundary is inclusive: a
	// sample at exactly the threshold stays in range.
	BoundaryThresholdMeters float64 `yaml:"boundary_threshold_meters"`
	// DefaultHeightMeters is assumed for samples, which carry no height.
	DefaultHeightMeters float64 `yaml:"default_height_meters"`
	// UseRawOnRefinementFailure feeds the raw sample through when the
	// refiner fails instead of rejecting it.
	UseRawOnRefinementFailure bool `yaml:"use_raw_on_refinement_failure"`
}

// DefaultConfig returns the standard tracker configuration.
func DefaultConfig() Config {
	return Config{
		BoundaryThresholdMeters:   50,
		DefaultHeightMeters:       370,
		UseRawOnRefinementFailure: true,
	}
}

// Session is the per-observer state. Each session belongs to exactly one
// connection and its samples must be applied in arrival order; under that
// ownership no locking is needed.
type Session struct {
	ID        string                   `json:"id"`
	Reference *models.GeodeticPosition `json:"reference,omitempty"`
	Current   *models.GeodeticPosition `json:"current,omitempty"`
	State     State                    `json:"state"`
}

// NewSession returns a session awaiting its first sample.
func NewSession(id string) *Session {
	return &Session{ID: id, State: StateInitializing}
}

// ResetReference re-anchors the session at p. The tracker itself never
// moves the reference after the first sample; this is for external logic
// that has just handed the observer a fresh set of surroundings.
func (s *Session) ResetReference(p models.GeodeticPosition) {
	ref := p
	s.Reference = &ref
	s.State = StateSettled
}

// Update is the outcome of one position sample.
type Update struct {
	Event          Event                  `json:"event"`
	State          State                  `json:"state"`
	Position       models.GeodeticPosition `json:"position"`
	DistanceMeters float64                `json:"distance_meters"`
}

// Tracker runs the proximity state machine over session state handed to it
// per call. It holds no session state of its own and may be shared across
// sessions.
type Tracker struct {
	cfg     Config
	refiner Refiner
	log     *zap.Logger
}

// NewTracker builds a tracker. refiner may be nil to skip refinement and
// log may be nil for silence.
func NewTracker(cfg Config, refiner Refiner, log *zap.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.BoundaryThresholdMeters <= 0 {
		cfg.BoundaryThresholdMeters = def.BoundaryThresholdMeters
	}
	if cfg.DefaultHeightMeters == 0 {
		cfg.DefaultHeightMeters = def.DefaultHeightMeters
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{cfg: cfg, refiner: refiner, log: log}
}

// distancePrecision rounds distances to the micrometer before comparing
// against the threshold, so a sample at exactly the threshold lands on the
// same side regardless of trigonometric rounding noise.
const distancePrecision = 6

// Observe feeds one raw position sample through refinement and the state
// machine. On error the session is left untouched and the returned update
// only echoes the current state.
func (t *Tracker) Observe(s *Session, lat, lon float64) (Update, error) {
	if t.refiner != nil {
		refinedLat, refinedLon, err := t.refiner.Refine(lat, lon)
		if err != nil {
			if !t.cfg.UseRawOnRefinementFailure {
				t.log.Warn("refinement failed, rejecting sample",
					zap.String("session", s.ID), zap.Error(err))
				return Update{State: s.State}, fmt.Errorf("%w: %v", ErrRefinementUnavailable, err)
			}
			t.log.Warn("refinement failed, using raw sample",
				zap.String("session", s.ID), zap.Error(err))
		} else {
			lat, lon = refinedLat, refinedLon
		}
	}

	if err := geodesy.ValidateLatLon(lat, lon); err != nil {
		t.log.Warn("dropping invalid sample",
			zap.String("session", s.ID),
			zap.Float64("lat", lat), zap.Float64("lon", lon))
		return Update{State: s.State}, err
	}

	p := models.GeodeticPosition{Latitude: lat, Longitude: lon, Height: t.cfg.DefaultHeightMeters}
	current := p
	if s.Reference == nil {
		ref := p
		s.Reference = &ref
		s.Current = &current
		s.State = StateSettled
		return Update{Event: EventPositionRecorded, State: s.State, Position: p}, nil
	}

	d := geodesy.Haversine(s.Reference.Latitude, s.Reference.Longitude, lat, lon)
	s.Current = &current

	outside := decimal.NewFromFloat(d).Round(distancePrecision).
		GreaterThan(decimal.NewFromFloat(t.cfg.BoundaryThresholdMeters))

	switch {
	case outside && s.State == StateSettled:
		s.State = StateOutOfRange
		return Update{Event: EventBoundaryCrossed, State: s.State, Position: p, DistanceMeters: d}, nil
	case !outside && s.State == StateOutOfRange:
		s.State = StateSettled
		return Update{Event: EventReturnedInRange, State: s.State, Position: p, DistanceMeters: d}, nil
	default:
		return Update{Event: EventPositionUpdated, State: s.State, Position: p, DistanceMeters: d}, nil
	}
}
