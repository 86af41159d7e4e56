package ndvi

import (
	"errors"
	"fmt"
	"time"
)

// Status is the normalized vegetation-health classification of an index value.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusModerate Status = "moderate"
	StatusStressed Status = "stressed"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// ErrIndexOutOfRange indicates a computed index outside [-1, 1]. That is
// a calculation or band-extraction defect, never an environmental
// condition, so it is surfaced loudly instead of clamped.
var ErrIndexOutOfRange = errors.New("vegetation index outside [-1, 1]")

// Thresholds holds the classification boundaries. Each boundary is
// inclusive on the status above it: index >= Healthy is healthy,
// [Moderate, Healthy) is moderate, [Stressed, Moderate) is stressed,
// anything below Stressed is critical.
type Thresholds struct {
	Healthy  float64
	Moderate float64
	Stressed float64
}

// DefaultThresholds returns the standard NDVI classification table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Healthy:  0.7,
		Moderate: 0.5,
		Stressed: 0.3,
	}
}

// Reading is a single derived vegetation observation. Index is nil when
// no qualifying imagery produced a value (status unknown).
type Reading struct {
	Date   time.Time `json:"date"`
	Index  *float64  `json:"index_value"`
	Status Status    `json:"status"`
}

// Index computes the normalized difference vegetation index from red and
// near-infrared reflectance. The degenerate case red+nir == 0 yields
// (0, false) so callers classify it as unknown instead of dividing by zero.
func Index(red, nir float64) (float64, bool) {
	if red+nir == 0 {
		return 0, false
	}
	return (nir - red) / (nir + red), true
}

// Classify maps an index value onto a status using the threshold table.
func (t Thresholds) Classify(v float64) Status {
	switch {
	case v >= t.Healthy:
		return StatusHealthy
	case v >= t.Moderate:
		return StatusModerate
	case v >= t.Stressed:
		return StatusStressed
	default:
		return StatusCritical
	}
}

// Reading derives a full vegetation reading from raw band reflectance.
// A value outside [-1, 1] returns ErrIndexOutOfRange.
func (t Thresholds) Reading(date time.Time, red, nir float64) (Reading, error) {
	v, ok := Index(red, nir)
	if !ok {
		return Reading{Date: date, Status: StatusUnknown}, nil
	}
	if v < -1 || v > 1 {
		return Reading{}, fmt.Errorf("%w: got %.6f (red=%.4f nir=%.4f)", ErrIndexOutOfRange, v, red, nir)
	}
	return Reading{Date: date, Index: &v, Status: t.Classify(v)}, nil
}
