package models

// GeodeticPosition is a WGS84 latitude/longitude pair with ellipsoidal height
type GeodeticPosition struct {
	Latitude  float64 `json:"latitude"`  // degrees, -90..90
	Longitude float64 `json:"longitude"` // degrees, -180..180
	Height    float64 `json:"height"`    // meters above the ellipsoid
}

// EnuVector is a local East-North-Up offset in meters. A bare vector carries
// no frame of its own: it is only meaningful together with the geodetic
// position it was computed at, so the types below always pair the two.
type EnuVector struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Up    float64 `json:"up"`
}

// Anchor pins a placed object to the real-world position it was created at.
// CreatorToObject is expressed in the ENU frame at CreatorPosition and both
// are fixed for the lifetime of the anchor. ObjectPosition is derived from
// them once and stored so spatial lookups can index the object itself.
type Anchor struct {
	ID              string           `json:"id"`
	CreatorPosition GeodeticPosition `json:"creator_position"`
	CreatorToObject EnuVector        `json:"creator_to_object"`
	ObjectPosition  GeodeticPosition `json:"object_position"`
}

// ResolvedAnchor is an anchor's offset re-expressed in an observer's local
// ENU frame. Observer is the reference position of Vector.
type ResolvedAnchor struct {
	AnchorID string           `json:"anchor_id"`
	Observer GeodeticPosition `json:"observer"`
	Vector   EnuVector        `json:"vector"`
}
