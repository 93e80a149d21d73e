// Package geodesy converts between WGS84 geodetic coordinates,
// Earth-Centered-Earth-Fixed (ECEF) positions and local East-North-Up
// (ENU) tangent-plane offsets.
//
// Numeric policy: trigonometric terms are evaluated in float64 (they are
// bounded and suffer no cancellation), while ECEF positions and deltas are
// carried as decimals so that a meter-scale offset survives addition and
// subtraction against Earth-radius-scale magnitudes.
package geodesy

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/kass/go-geo-anchor/pkg/models"
)

// WGS84 ellipsoid parameters.
const (
	SemiMajorAxis = 6378137.0            // meters
	Flattening    = 1.0 / 298.257223563

	// MeanEarthRadius is the spherical radius used by the haversine
	// short-range distance approximation.
	MeanEarthRadius = 6371000.0 // meters
)

// eccentricity squared, e2 = f(2-f)
var eccentricitySquared = Flattening * (2 - Flattening)

// Defaults for the iterative ECEF inverse.
const (
	DefaultInverseTolerance     = 1e-12 // radians between successive latitude estimates
	DefaultInverseMaxIterations = 50
)

var (
	// ErrInvalidPosition reports non-finite or out-of-range coordinates.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrNumericDivergence reports that the iterative ECEF inverse failed
	// to converge within its iteration cap.
	ErrNumericDivergence = errors.New("ecef inverse did not converge")
)

// ECEF is an Earth-Centered-Earth-Fixed position or delta in meters.
type ECEF struct {
	X, Y, Z decimal.Decimal
}

// NewECEF builds an ECEF value from float64 components.
func NewECEF(x, y, z float64) ECEF {
	return ECEF{
		X: decimal.NewFromFloat(x),
		Y: decimal.NewFromFloat(y),
		Z: decimal.NewFromFloat(z),
	}
}

// Add returns p + o.
func (p ECEF) Add(o ECEF) ECEF {
	return ECEF{X: p.X.Add(o.X), Y: p.Y.Add(o.Y), Z: p.Z.Add(o.Z)}
}

// Sub returns p - o.
func (p ECEF) Sub(o ECEF) ECEF {
	return ECEF{X: p.X.Sub(o.X), Y: p.Y.Sub(o.Y), Z: p.Z.Sub(o.Z)}
}

// Floats returns the components as float64, rounding away precision that
// decimal arithmetic preserved. Safe for deltas and trigonometric input.
func (p ECEF) Floats() (x, y, z float64) {
	x, _ = p.X.Float64()
	y, _ = p.Y.Float64()
	z, _ = p.Z.Float64()
	return x, y, z
}

// ValidateLatLon rejects non-finite or out-of-range coordinates.
func ValidateLatLon(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite coordinates (%v, %v)", ErrInvalidPosition, lat, lon)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrInvalidPosition, lat, lon)
	}
	return nil
}

// ValidatePosition rejects positions with invalid coordinates or a
// non-finite height.
func ValidatePosition(p models.GeodeticPosition) error {
	if err := ValidateLatLon(p.Latitude, p.Longitude); err != nil {
		return err
	}
	if math.IsNaN(p.Height) || math.IsInf(p.Height, 0) {
		return fmt.Errorf("%w: non-finite height %v", ErrInvalidPosition, p.Height)
	}
	return nil
}

// primeVerticalRadius returns N, the prime-vertical radius of curvature at
// the given latitude (radians).
func primeVerticalRadius(sinLat float64) float64 {
	return SemiMajorAxis / math.Sqrt(1-eccentricitySquared*sinLat*sinLat)
}

// GeodeticToECEF converts a geodetic position to ECEF using the standard
// closed-form expression. The conversion is exact; no iteration is needed.
func GeodeticToECEF(p models.GeodeticPosition) (ECEF, error) {
	if err := ValidatePosition(p); err != nil {
		return ECEF{}, err
	}

	lat := radians(p.Latitude)
	lon := radians(p.Longitude)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := primeVerticalRadius(sinLat)
	nPlusH := decimal.NewFromFloat(n + p.Height)

	return ECEF{
		X: nPlusH.Mul(decimal.NewFromFloat(cosLat * cosLon)),
		Y: nPlusH.Mul(decimal.NewFromFloat(cosLat * sinLon)),
		Z: decimal.NewFromFloat(n*(1-eccentricitySquared) + p.Height).
			Mul(decimal.NewFromFloat(sinLat)),
	}, nil
}

// ENUDeltaToECEF rotates a local ENU offset at (refLat, refLon), in degrees,
// into an ECEF delta. Rotation only; the result is a vector, not a position.
// The reference coordinates must already be validated.
func ENUDeltaToECEF(v models.EnuVector, refLat, refLon float64) ECEF {
	sinLat, cosLat := math.Sincos(radians(refLat))
	sinLon, cosLon := math.Sincos(radians(refLon))

	return ECEF{
		X: combine(-sinLon, v.East, -sinLat*cosLon, v.North, cosLat*cosLon, v.Up),
		Y: combine(cosLon, v.East, -sinLat*sinLon, v.North, cosLat*sinLon, v.Up),
		Z: combine(0, 0, cosLat, v.North, sinLat, v.Up),
	}
}

// ECEFDeltaToENU rotates an ECEF delta into the local ENU frame at
// (refLat, refLon), in degrees. This is the transpose of the rotation used
// by ENUDeltaToECEF; the matrix is orthonormal, so no inversion is needed.
func ECEFDeltaToENU(d ECEF, refLat, refLon float64) models.EnuVector {
	sinLat, cosLat := math.Sincos(radians(refLat))
	sinLon, cosLon := math.Sincos(radians(refLon))

	return models.EnuVector{
		East:  project(d, -sinLon, cosLon, 0),
		North: project(d, -sinLat*cosLon, -sinLat*sinLon, cosLat),
		Up:    project(d, cosLat*cosLon, cosLat*sinLon, sinLat),
	}
}

// ECEFToGeodetic inverts GeodeticToECEF with a Bowring-style fixed-point
// iteration on the latitude. tolerance is the convergence criterion in
// radians and maxIterations the cap; pass zero for the defaults. Inputs far
// outside Earth-surface magnitudes that fail to converge within the cap
// yield ErrNumericDivergence.
func ECEFToGeodetic(p ECEF, tolerance float64, maxIterations int) (models.GeodeticPosition, error) {
	if tolerance <= 0 {
		tolerance = DefaultInverseTolerance
	}
	if maxIterations <= 0 {
		maxIterations = DefaultInverseMaxIterations
	}

	x, y, z := p.Floats()
	if !finite(x) || !finite(y) || !finite(z) {
		return models.GeodeticPosition{}, fmt.Errorf("%w: non-finite ecef (%v, %v, %v)", ErrInvalidPosition, x, y, z)
	}

	pr := math.Hypot(x, y)
	lon := math.Atan2(y, x)

	// Near the poles the general iteration divides by cos(lat); solve
	// directly on the axis instead.
	if pr < 1e-9 {
		semiMinor := SemiMajorAxis * (1 - Flattening)
		lat := math.Pi / 2
		if z < 0 {
			lat = -lat
		}
		return models.GeodeticPosition{
			Latitude:  degrees(lat),
			Longitude: 0,
			Height:    math.Abs(z) - semiMinor,
		}, nil
	}

	lat := math.Atan2(z, pr*(1-eccentricitySquared))
	for i := 0; i < maxIterations; i++ {
		n := primeVerticalRadius(math.Sin(lat))
		height := pr/math.Cos(lat) - n
		next := math.Atan2(z, pr*(1-eccentricitySquared*n/(n+height)))
		if math.Abs(next-lat) < tolerance {
			// Recompute the height from the converged latitude; the value
			// above lags one iteration behind it.
			n = primeVerticalRadius(math.Sin(next))
			return models.GeodeticPosition{
				Latitude:  degrees(next),
				Longitude: degrees(lon),
				Height:    pr/math.Cos(next) - n,
			}, nil
		}
		lat = next
	}
	return models.GeodeticPosition{}, fmt.Errorf("%w after %d iterations", ErrNumericDivergence, maxIterations)
}

// SmallOffsetApprox applies an ENU offset to a geodetic reference using the
// linearized curvature terms M (meridional) and N (prime-vertical). It is
// valid only for offsets small relative to the Earth's radius; callers that
// need exactness should go through GeodeticToECEF and ECEFToGeodetic.
func SmallOffsetApprox(ref models.GeodeticPosition, v models.EnuVector) (models.GeodeticPosition, error) {
	if err := ValidatePosition(ref); err != nil {
		return models.GeodeticPosition{}, err
	}

	lat := radians(ref.Latitude)
	sinLat := math.Sin(lat)
	oneMinusE2Sin2 := 1 - eccentricitySquared*sinLat*sinLat

	n := primeVerticalRadius(sinLat)
	m := SemiMajorAxis * (1 - eccentricitySquared) / math.Pow(oneMinusE2Sin2, 1.5)

	return models.GeodeticPosition{
		Latitude:  ref.Latitude + degrees(v.North/(m+ref.Height)),
		Longitude: ref.Longitude + degrees(v.East/((n+ref.Height)*math.Cos(lat))),
		Height:    ref.Height + v.Up,
	}, nil
}

// Haversine returns the great-circle distance in meters between two
// lat/lon points (degrees) on the mean Earth sphere. A short-range
// approximation: fine for boundary checks, not for frame conversion.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := radians(lat1)
	lat2Rad := radians(lat2)
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return MeanEarthRadius * c
}

// combine evaluates c1*v1 + c2*v2 + c3*v3 in decimal arithmetic.
func combine(c1, v1, c2, v2, c3, v3 float64) decimal.Decimal {
	return decimal.NewFromFloat(c1).Mul(decimal.NewFromFloat(v1)).
		Add(decimal.NewFromFloat(c2).Mul(decimal.NewFromFloat(v2))).
		Add(decimal.NewFromFloat(c3).Mul(decimal.NewFromFloat(v3)))
}

// project evaluates the dot product of an ECEF delta with a float64 row of
// the rotation matrix, in decimal arithmetic, and returns the result as a
// float64 (deltas are meter-scale, so the rounding is harmless).
func project(d ECEF, cx, cy, cz float64) float64 {
	sum := d.X.Mul(decimal.NewFromFloat(cx)).
		Add(d.Y.Mul(decimal.NewFromFloat(cy))).
		Add(d.Z.Mul(decimal.NewFromFloat(cz)))
	f, _ := sum.Float64()
	return f
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
