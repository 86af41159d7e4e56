package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/swisscorp/agrisat/internal/imagery"
	"github.com/swisscorp/agrisat/internal/monitor"
	"github.com/swisscorp/agrisat/internal/registry"
	"github.com/swisscorp/agrisat/internal/store"
)

// Options control the per-location refresh query.
type Options struct {
	RadiusMeters  float64
	DaysBack      int
	MaxCloudCover float64
}

// Scheduler periodically samples the latest vegetation reading for every
// registered supplier into the snapshot store. Failures are logged and
// skipped; the job must never take the service down.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *monitor.Service
	store     *store.MemoryStore
	locations []registry.Location
	interval  time.Duration
	opts      Options
}

// New creates a new Scheduler.
func New(locations []registry.Location, interval time.Duration, service *monitor.Service, st *store.MemoryStore, opts Options) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		store:     st,
		locations: locations,
		interval:  interval,
		opts:      opts,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		log.Println("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(s.refreshAll)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) refreshAll() {
	log.Println("scheduler: running vegetation refresh job")

	var wg sync.WaitGroup
	for _, loc := range s.locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			area := imagery.QueryArea{
				Center:       imagery.Coordinate{Lat: loc.Lat, Lon: loc.Lon},
				RadiusMeters: s.opts.RadiusMeters,
			}

			obs, err := s.service.LatestReading(ctx, area, s.opts.DaysBack, s.opts.MaxCloudCover)
			if err != nil {
				log.Printf("scheduler: refresh failed for %s: %v", loc.Name, err)
				return
			}
			if obs.Degraded {
				log.Printf("scheduler: source degraded for %s: %s", loc.Name, obs.Reason)
				return
			}
			if obs.Reading == nil {
				log.Printf("scheduler: no qualifying imagery for %s", loc.Name)
				return
			}

			s.store.Save(store.Snapshot{
				LocationID: loc.ID,
				Name:       loc.Name,
				Reading:    *obs.Reading,
				CloudCover: obs.CloudCover,
				SampledAt:  time.Now().UTC(),
			})
		}()
	}
	wg.Wait()

	log.Println("scheduler: completed vegetation refresh job")
}
