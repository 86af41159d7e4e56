// Package monitor selects which satellite observations to use for
// point-in-time and time-series vegetation queries.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/swisscorp/agrisat/internal/imagery"
	"github.com/swisscorp/agrisat/internal/ndvi"
)

// PickRule decides which candidate wins within a query window or bucket.
type PickRule string

const (
	// PickMostRecent favors recency: staleness is worse than moderate
	// cloud noise once both candidates are under the threshold.
	PickMostRecent PickRule = "most_recent"

	// PickLowestCloud favors the cleanest sample, which suits monthly
	// trend buckets better than the exact acquisition day.
	PickLowestCloud PickRule = "lowest_cloud"
)

// Policy parameterizes the tie-break rules instead of hiding them as
// constants.
type Policy struct {
	Point  PickRule
	Bucket PickRule
}

// DefaultPolicy returns most-recent for point queries and lowest-cloud
// for time-series buckets.
func DefaultPolicy() Policy {
	return Policy{Point: PickMostRecent, Bucket: PickLowestCloud}
}

// Observation is the typed outcome of a point-in-time query: a reading,
// an explicit absence of qualifying imagery, or a degraded state when
// the backing source failed.
type Observation struct {
	Reading     *ndvi.Reading
	CloudCover  float64
	Degraded    bool
	RateLimited bool
	Reason      string
}

// Series is the typed outcome of a time-series query: exactly one
// reading per requested month, ascending by date, with gaps preserved
// as unknown readings.
type Series struct {
	Readings    []ndvi.Reading
	Degraded    bool
	RateLimited bool
	Reason      string
}

// Service implements the observation-selection policy on top of an
// imagery source. Stateless; safe for concurrent use.
type Service struct {
	source     imagery.Source
	thresholds ndvi.Thresholds
	policy     Policy
	now        func() time.Time
}

// NewService creates a selector over the given source. A nil now
// function defaults to time.Now.
func NewService(source imagery.Source, thresholds ndvi.Thresholds, policy Policy, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if policy.Point == "" {
		policy.Point = PickMostRecent
	}
	if policy.Bucket == "" {
		policy.Bucket = PickLowestCloud
	}
	return &Service{
		source:     source,
		thresholds: thresholds,
		policy:     policy,
		now:        now,
	}
}

// LatestReading queries [now - daysBack, now] and derives a reading from
// the winning candidate. Candidates are never averaged for a
// point-in-time query. Source failures come back as a degraded
// Observation, not an error; only invariant violations return an error.
func (s *Service) LatestReading(ctx context.Context, area imagery.QueryArea, daysBack int, maxCloudCover float64) (Observation, error) {
	end := s.now().UTC()
	start := end.AddDate(0, 0, -daysBack)

	candidates, err := s.source.FetchCandidates(ctx, area, start, end, maxCloudCover)
	if err != nil {
		obs, convErr := degradedObservation(err)
		return obs, convErr
	}

	if len(candidates) == 0 {
		return Observation{
			Reason: fmt.Sprintf("no qualifying imagery between %s and %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		}, nil
	}

	winner := pick(candidates, s.policy.Point)
	reading, err := s.thresholds.Reading(winner.AcquisitionDate, winner.Red, winner.NIR)
	if err != nil {
		return Observation{}, err
	}

	return Observation{Reading: &reading, CloudCover: winner.CloudCover}, nil
}

// TimeSeries partitions [now - monthsBack, now] into calendar-month
// buckets and queries each bucket independently and concurrently. A
// bucket with no qualifying candidate yields an unknown reading so the
// series always has exactly monthsBack entries in ascending order.
func (s *Service) TimeSeries(ctx context.Context, area imagery.QueryArea, monthsBack int, maxCloudCover float64) (Series, error) {
	now := s.now().UTC()
	buckets := monthBuckets(now, monthsBack)

	readings := make([]ndvi.Reading, len(buckets))
	sourceErrs := make([]error, len(buckets))
	internalErrs := make([]error, len(buckets))

	var wg sync.WaitGroup
	for i, b := range buckets {
		wg.Add(1)
		go func(i int, b bucket) {
			defer wg.Done()

			unknown := ndvi.Reading{Date: b.start, Status: ndvi.StatusUnknown}

			candidates, err := s.source.FetchCandidates(ctx, area, b.start, b.end, maxCloudCover)
			if err != nil {
				if isSourceFailure(err) {
					sourceErrs[i] = err
					readings[i] = unknown
					return
				}
				internalErrs[i] = err
				readings[i] = unknown
				return
			}

			if len(candidates) == 0 {
				readings[i] = unknown
				return
			}

			winner := pick(candidates, s.policy.Bucket)
			reading, err := s.thresholds.Reading(winner.AcquisitionDate, winner.Red, winner.NIR)
			if err != nil {
				internalErrs[i] = err
				readings[i] = unknown
				return
			}
			readings[i] = reading
		}(i, b)
	}
	wg.Wait()

	for _, err := range internalErrs {
		if err != nil {
			return Series{}, err
		}
	}

	series := Series{Readings: readings}

	failed := 0
	for _, err := range sourceErrs {
		if err != nil {
			failed++
			if errors.Is(err, imagery.ErrRateLimited) {
				series.RateLimited = true
			}
		}
	}
	if failed == len(buckets) && failed > 0 {
		series.Degraded = true
		series.Reason = "imagery source unavailable for every requested month"
		if series.RateLimited {
			series.Reason = "imagery source rate limited for every requested month"
		}
	}

	return series, nil
}

// degradedObservation converts a source failure into a typed degraded
// outcome; anything outside the taxonomy propagates as an error.
func degradedObservation(err error) (Observation, error) {
	switch {
	case errors.Is(err, imagery.ErrRateLimited):
		return Observation{Degraded: true, RateLimited: true, Reason: "imagery source rate limited; retry later"}, nil
	case errors.Is(err, imagery.ErrSourceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return Observation{Degraded: true, Reason: "imagery source unavailable"}, nil
	default:
		return Observation{}, err
	}
}

func isSourceFailure(err error) bool {
	return errors.Is(err, imagery.ErrSourceUnavailable) ||
		errors.Is(err, imagery.ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// pick chooses the winning candidate from a non-empty, most-recent-first
// list.
func pick(candidates []imagery.ImageCandidate, rule PickRule) imagery.ImageCandidate {
	if rule == PickLowestCloud {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.CloudCover < best.CloudCover {
				best = c
			}
		}
		return best
	}
	return candidates[0]
}

type bucket struct {
	start time.Time
	end   time.Time
}

// monthBuckets returns n calendar-month windows ascending, ending with
// the current (partial) month.
func monthBuckets(now time.Time, n int) []bucket {
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	buckets := make([]bucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		start := currentMonth.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)
		if end.After(now) {
			end = now
		}
		buckets = append(buckets, bucket{start: start, end: end})
	}
	return buckets
}
