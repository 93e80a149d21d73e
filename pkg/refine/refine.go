// Package refine provides implementations of the proximity.Refiner
// collaborator, which maps raw GPS fixes to corrected ones.
package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Func adapts a plain function to the proximity.Refiner interface.
type Func func(lat, lon float64) (float64, float64, error)

// Refine calls f.
func (f Func) Refine(lat, lon float64) (float64, float64, error) {
	return f(lat, lon)
}

// Identity passes fixes through unchanged. Useful in tests and when no
// triangulation service is deployed.
var Identity = Func(func(lat, lon float64) (float64, float64, error) {
	return lat, lon, nil
})

// Client calls an external triangulation service over HTTP. A non-2xx
// response or transport error surfaces as an error for the tracker's
// fallback policy to handle.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. timeout <= 0 means
// 2 seconds; refinement sits on the position-sample path, so it must fail
// fast rather than stall the session.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Refine posts the raw fix to the service and returns the corrected one.
func (c *Client) Refine(lat, lon float64) (float64, float64, error) {
	body, err := json.Marshal(fix{Latitude: lat, Longitude: lon})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to encode fix: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/refine", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("refinement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("refinement service returned %s", resp.Status)
	}

	var refined fix
	if err := json.NewDecoder(resp.Body).Decode(&refined); err != nil {
		return 0, 0, fmt.Errorf("failed to decode refined fix: %w", err)
	}

	return refined.Latitude, refined.Longitude, nil
}
