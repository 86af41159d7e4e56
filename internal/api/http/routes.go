package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/swisscorp/agrisat/internal/analytics"
	"github.com/swisscorp/agrisat/internal/chat"
	"github.com/swisscorp/agrisat/internal/imagery"
	"github.com/swisscorp/agrisat/internal/monitor"
	"github.com/swisscorp/agrisat/internal/ndvi"
	"github.com/swisscorp/agrisat/internal/registry"
	"github.com/swisscorp/agrisat/internal/store"
)

var validate = validator.New()

// Defaults supplies the fallback query parameters applied when the
// caller omits them.
type Defaults struct {
	RadiusMeters  float64
	DaysBack      int
	MonthsBack    int
	MaxCloudCover float64
}

// Deps bundles everything the HTTP layer orchestrates.
type Deps struct {
	Service  *monitor.Service
	Registry *registry.Registry
	Source   imagery.Source
	Store    *store.MemoryStore
	Chat     *chat.Agent
	Defaults Defaults
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Use(requestID())

	app.Get("/health", healthHandler(deps))

	v1 := app.Group("/api/v1")
	v1.Get("/ndvi/location/:id", locationNDVIHandler(deps))
	v1.Get("/ndvi/timeseries/location/:id", timeSeriesHandler(deps))
	v1.Get("/ndvi/point", pointNDVIHandler(deps))
	v1.Post("/chat", chatHandler(deps))
	v1.Get("/analytics/summary", analyticsHandler(deps))
}

// requestID attaches a correlation id to every request.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	}
}

func healthHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		available := false
		if p, ok := deps.Source.(imagery.Pinger); ok {
			ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
			defer cancel()
			available = p.Ping(ctx) == nil
		}

		status := "ok"
		if !available {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":           status,
			"source_available": available,
		})
	}
}

// readingQuery holds the validated parameters of a point-in-time query.
type readingQuery struct {
	Radius        float64 `validate:"gt=0"`
	DaysBack      int     `validate:"gt=0"`
	MaxCloudCover float64 `validate:"gte=0,lte=1"`
}

func parseReadingQuery(c *fiber.Ctx, d Defaults) (readingQuery, error) {
	q := readingQuery{
		Radius:        d.RadiusMeters,
		DaysBack:      d.DaysBack,
		MaxCloudCover: d.MaxCloudCover,
	}

	var err error
	if v := c.Query("radius"); v != "" {
		if q.Radius, err = strconv.ParseFloat(v, 64); err != nil {
			return q, errors.New("invalid radius")
		}
	}
	if v := c.Query("days_back"); v != "" {
		if q.DaysBack, err = strconv.Atoi(v); err != nil {
			return q, errors.New("invalid days_back")
		}
	}
	if v := c.Query("max_cloud_cover"); v != "" {
		if q.MaxCloudCover, err = strconv.ParseFloat(v, 64); err != nil {
			return q, errors.New("invalid max_cloud_cover")
		}
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// readingResponse is the single-reading payload. Reading is null when no
// qualifying imagery exists; Degraded marks backend failures.
type readingResponse struct {
	RequestID   string             `json:"request_id"`
	Supplier    *registry.Location `json:"supplier,omitempty"`
	Location    imagery.Coordinate `json:"location"`
	Reading     *ndvi.Reading      `json:"reading"`
	CloudCover  *float64           `json:"cloud_cover,omitempty"`
	Degraded    bool               `json:"degraded"`
	RateLimited bool               `json:"rate_limited,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

func locationNDVIHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid supplier id")
		}

		q, err := parseReadingQuery(c, deps.Defaults)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc, err := deps.Registry.Resolve(id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return err
		}

		area := imagery.QueryArea{
			Center:       imagery.Coordinate{Lat: loc.Lat, Lon: loc.Lon},
			RadiusMeters: q.Radius,
		}
		obs, err := deps.Service.LatestReading(c.Context(), area, q.DaysBack, q.MaxCloudCover)
		if err != nil {
			return internalError(err)
		}

		return c.JSON(observationResponse(c, obs, area.Center, &loc))
	}
}

func pointNDVIHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		latStr := c.Query("lat")
		lonStr := c.Query("lon")
		if latStr == "" || lonStr == "" {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lon query parameters are required")
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil || lat < -90 || lat > 90 {
			return fiber.NewError(fiber.StatusBadRequest, "latitude must be a number between -90 and 90")
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil || lon < -180 || lon > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "longitude must be a number between -180 and 180")
		}

		q, err := parseReadingQuery(c, deps.Defaults)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		area := imagery.QueryArea{
			Center:       imagery.Coordinate{Lat: lat, Lon: lon},
			RadiusMeters: q.Radius,
		}
		obs, err := deps.Service.LatestReading(c.Context(), area, q.DaysBack, q.MaxCloudCover)
		if err != nil {
			return internalError(err)
		}

		return c.JSON(observationResponse(c, obs, area.Center, nil))
	}
}

func observationResponse(c *fiber.Ctx, obs monitor.Observation, center imagery.Coordinate, supplier *registry.Location) readingResponse {
	resp := readingResponse{
		RequestID:   requestIDFrom(c),
		Supplier:    supplier,
		Location:    center,
		Reading:     obs.Reading,
		Degraded:    obs.Degraded,
		RateLimited: obs.RateLimited,
		Reason:      obs.Reason,
	}
	if obs.Reading != nil {
		cloud := obs.CloudCover
		resp.CloudCover = &cloud
	}
	return resp
}

// timeSeriesQuery holds the validated parameters of a time-series query.
// The months_back cap bounds the per-month fan-out against the catalog.
type timeSeriesQuery struct {
	Radius        float64 `validate:"gt=0"`
	MonthsBack    int     `validate:"gt=0,lte=36"`
	MaxCloudCover float64 `validate:"gte=0,lte=1"`
}

func timeSeriesHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid supplier id")
		}

		q := timeSeriesQuery{
			Radius:        deps.Defaults.RadiusMeters,
			MonthsBack:    deps.Defaults.MonthsBack,
			MaxCloudCover: deps.Defaults.MaxCloudCover,
		}
		if v := c.Query("radius"); v != "" {
			if q.Radius, err = strconv.ParseFloat(v, 64); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid radius")
			}
		}
		if v := c.Query("months_back"); v != "" {
			if q.MonthsBack, err = strconv.Atoi(v); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid months_back")
			}
		}
		if v := c.Query("max_cloud_cover"); v != "" {
			if q.MaxCloudCover, err = strconv.ParseFloat(v, 64); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid max_cloud_cover")
			}
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc, err := deps.Registry.Resolve(id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return err
		}

		area := imagery.QueryArea{
			Center:       imagery.Coordinate{Lat: loc.Lat, Lon: loc.Lon},
			RadiusMeters: q.Radius,
		}
		series, err := deps.Service.TimeSeries(c.Context(), area, q.MonthsBack, q.MaxCloudCover)
		if err != nil {
			return internalError(err)
		}

		return c.JSON(fiber.Map{
			"request_id":   requestIDFrom(c),
			"supplier":     loc,
			"months_back":  q.MonthsBack,
			"series":       series.Readings,
			"degraded":     series.Degraded,
			"rate_limited": series.RateLimited,
			"reason":       series.Reason,
		})
	}
}

// chatRequest mirrors the dashboard chat contract: history travels with
// the caller, nothing is stored server-side.
type chatRequest struct {
	Message string      `json:"message"`
	History []chat.Turn `json:"conversation_history"`
}

func chatHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req chatRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.Message == "" {
			return fiber.NewError(fiber.StatusBadRequest, "message is required")
		}

		reply, history, err := deps.Chat.Respond(c.Context(), req.Message, req.History)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, "chat backend failed")
		}

		return c.JSON(fiber.Map{
			"response":             reply,
			"conversation_history": history,
		})
	}
}

func analyticsHandler(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(analytics.Build(deps.Store, deps.Registry, deps.Defaults.MonthsBack))
	}
}

func requestIDFrom(c *fiber.Ctx) string {
	if id, ok := c.Locals("request_id").(string); ok {
		return id
	}
	return ""
}

// internalError wraps invariant violations (index outside [-1,1] and the
// like) as loud 500s.
func internalError(err error) error {
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
