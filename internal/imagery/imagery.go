package imagery

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSourceUnavailable is returned when the imagery backend is
	// unreachable or not authenticated. Callers degrade rather than fail.
	ErrSourceUnavailable = errors.New("imagery source unavailable")

	// ErrRateLimited is returned when the imagery backend quota is
	// exhausted. Distinct from ErrSourceUnavailable so callers can back off.
	ErrRateLimited = errors.New("imagery source rate limited")
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// QueryArea is the circular area of interest for a catalog query.
// Derived per request, never persisted.
type QueryArea struct {
	Center       Coordinate
	RadiusMeters float64
}

// ImageCandidate is one qualifying satellite observation for a query area.
// Red and NIR hold mean surface reflectance over the area; NDVI is a
// ratio so the catalog's reflectance scaling cancels out.
type ImageCandidate struct {
	AcquisitionDate time.Time
	CloudCover      float64 // fraction in [0,1], always below the query threshold
	Red             float64
	NIR             float64
}

// Source abstracts a remote satellite-imagery catalog. Implementations
// must return candidates ordered by acquisition date descending, apply
// the cloud-cover filter server-side where the backend supports it, and
// treat an empty result as a normal outcome, not an error. Safe for
// concurrent use.
type Source interface {
	FetchCandidates(ctx context.Context, area QueryArea, start, end time.Time, maxCloudCover float64) ([]ImageCandidate, error)
}

// Pinger is implemented by sources that can cheaply report backend
// reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
