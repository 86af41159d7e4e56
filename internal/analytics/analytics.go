// Package analytics aggregates snapshot data into the pre-computed KPI
// payload the dashboard charts consume. The shape here is owned by the
// dashboard, not by the monitoring core.
package analytics

import (
	"time"

	"github.com/swisscorp/agrisat/internal/ndvi"
	"github.com/swisscorp/agrisat/internal/registry"
	"github.com/swisscorp/agrisat/internal/store"
)

// LocationKPI is the latest sampled state of one supplier.
type LocationKPI struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Index      *float64  `json:"index_value"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// MonthPoint is one labeled point of the fleet-wide monthly series.
type MonthPoint struct {
	Month     string   `json:"month"`
	MeanIndex *float64 `json:"mean_index"`
	Samples   int      `json:"samples"`
}

// Summary is the dashboard KPI payload.
type Summary struct {
	Suppliers    int            `json:"suppliers"`
	Monitored    int            `json:"monitored"`
	CoveragePct  float64        `json:"coverage_pct"`
	MeanIndex    *float64       `json:"mean_index"`
	StatusCounts map[string]int `json:"status_counts"`
	Locations    []LocationKPI  `json:"locations"`
	Series       []MonthPoint   `json:"series"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Build computes the KPI summary from the current snapshot store.
func Build(st *store.MemoryStore, reg *registry.Registry, monthsBack int) Summary {
	now := time.Now().UTC()
	all := reg.All()
	latest := st.LatestAll()

	byID := make(map[int]store.Snapshot, len(latest))
	for _, snap := range latest {
		byID[snap.LocationID] = snap
	}

	summary := Summary{
		Suppliers:    len(all),
		StatusCounts: map[string]int{},
		Locations:    make([]LocationKPI, 0, len(all)),
		GeneratedAt:  now,
	}

	var sum float64
	var counted int
	for _, loc := range all {
		snap, ok := byID[loc.ID]
		if !ok {
			continue
		}
		summary.Monitored++
		summary.StatusCounts[string(snap.Reading.Status)]++
		summary.Locations = append(summary.Locations, LocationKPI{
			ID:         loc.ID,
			Name:       loc.Name,
			Index:      snap.Reading.Index,
			Status:     string(snap.Reading.Status),
			ObservedAt: snap.Reading.Date,
		})
		if snap.Reading.Index != nil {
			sum += *snap.Reading.Index
			counted++
		}
	}

	if len(all) > 0 {
		summary.CoveragePct = 100 * float64(summary.Monitored) / float64(len(all))
	}
	if counted > 0 {
		mean := sum / float64(counted)
		summary.MeanIndex = &mean
	}

	summary.Series = monthlySeries(st, all, now, monthsBack)
	return summary
}

// monthlySeries averages stored snapshots per calendar month across all
// suppliers.
func monthlySeries(st *store.MemoryStore, locations []registry.Location, now time.Time, monthsBack int) []MonthPoint {
	if monthsBack <= 0 {
		monthsBack = 6
	}
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	series := make([]MonthPoint, 0, monthsBack)
	for i := monthsBack - 1; i >= 0; i-- {
		start := currentMonth.AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)

		var sum float64
		var count int
		for _, loc := range locations {
			snaps, err := st.Range(loc.ID, start, end.Add(-time.Nanosecond))
			if err != nil {
				continue
			}
			for _, snap := range snaps {
				if snap.Reading.Status == ndvi.StatusUnknown || snap.Reading.Index == nil {
					continue
				}
				sum += *snap.Reading.Index
				count++
			}
		}

		point := MonthPoint{Month: start.Format("2006-01"), Samples: count}
		if count > 0 {
			mean := sum / float64(count)
			point.MeanIndex = &mean
		}
		series = append(series, point)
	}
	return series
}
