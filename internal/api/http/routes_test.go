package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/swisscorp/agrisat/internal/chat"
	"github.com/swisscorp/agrisat/internal/imagery"
	"github.com/swisscorp/agrisat/internal/monitor"
	"github.com/swisscorp/agrisat/internal/ndvi"
	"github.com/swisscorp/agrisat/internal/registry"
	"github.com/swisscorp/agrisat/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fetch func() ([]imagery.ImageCandidate, error)
}

func (f *fakeSource) FetchCandidates(_ context.Context, _ imagery.QueryArea, _, _ time.Time, _ float64) ([]imagery.ImageCandidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fetch()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestApp(t *testing.T, src *fakeSource) *fiber.App {
	t.Helper()

	agent, err := chat.NewAgent(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})

	RegisterRoutes(app, Deps{
		Service:  monitor.NewService(src, ndvi.DefaultThresholds(), monitor.DefaultPolicy(), nil),
		Registry: registry.Default(),
		Source:   src,
		Store:    store.NewMemoryStore(10, 0),
		Chat:     agent,
		Defaults: Defaults{
			RadiusMeters:  1000,
			DaysBack:      30,
			MonthsBack:    6,
			MaxCloudCover: 0.2,
		},
	})
	return app
}

func decodeBody(t *testing.T, resp io.Reader) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.NewDecoder(resp).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestLocationNDVIHappyPath(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) {
		return []imagery.ImageCandidate{{
			AcquisitionDate: time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC),
			CloudCover:      0.08,
			Red:             100,
			NIR:             900,
		}}, nil
	}}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/location/1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["degraded"] != false {
		t.Error("expected degraded false")
	}
	reading, ok := body["reading"].(map[string]any)
	if !ok {
		t.Fatalf("expected reading object, got %v", body["reading"])
	}
	if reading["index_value"] != 0.8 {
		t.Errorf("expected index 0.8, got %v", reading["index_value"])
	}
	if reading["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", reading["status"])
	}
	supplier, ok := body["supplier"].(map[string]any)
	if !ok || supplier["name"] != "Fenaco Genossenschaft, Bern" {
		t.Errorf("unexpected supplier: %v", body["supplier"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestLocationNDVIUnknownSupplier(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/location/999", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if src.callCount() != 0 {
		t.Error("unknown supplier must not reach the imagery source")
	}
}

func TestLocationNDVIInvalidRadius(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/location/1?radius=-5", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if src.callCount() != 0 {
		t.Error("invalid parameters must be rejected before any imagery query")
	}
}

func TestLocationNDVISourceUnavailableDegrades(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) {
		return nil, imagery.ErrSourceUnavailable
	}}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/location/1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("source failure must still answer 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["degraded"] != true {
		t.Error("expected degraded true")
	}
	if body["reading"] != nil {
		t.Errorf("expected null reading, got %v", body["reading"])
	}
}

func TestLocationNDVINoImagery(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/location/1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["degraded"] != false {
		t.Error("empty window is not a degraded state")
	}
	if body["reading"] != nil {
		t.Errorf("expected null reading, got %v", body["reading"])
	}
	if body["reason"] == "" {
		t.Error("expected an explanatory reason")
	}
}

func TestPointNDVI(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) {
		return []imagery.ImageCandidate{{
			AcquisitionDate: time.Now().UTC(),
			CloudCover:      0.1,
			Red:             2000,
			NIR:             8000,
		}}, nil
	}}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/point?lat=46.9&lon=7.44", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["supplier"] != nil {
		t.Error("ad-hoc point query must not carry a supplier")
	}
	reading := body["reading"].(map[string]any)
	if reading["status"] != "moderate" {
		t.Errorf("expected moderate (index 0.6), got %v", reading["status"])
	}
}

func TestPointNDVIValidation(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	for _, target := range []string{
		"/api/v1/ndvi/point",
		"/api/v1/ndvi/point?lat=91&lon=0",
		"/api/v1/ndvi/point?lat=0&lon=181",
		"/api/v1/ndvi/point?lat=abc&lon=0",
		"/api/v1/ndvi/point?lat=46.9&lon=7.44&max_cloud_cover=1.5",
	} {
		resp, err := app.Test(httptest.NewRequest("GET", target, nil))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, resp.StatusCode)
		}
	}
	if src.callCount() != 0 {
		t.Error("invalid coordinates must never reach the imagery source")
	}
}

func TestTimeSeriesEndpoint(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/timeseries/location/1?months_back=4", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	series, ok := body["series"].([]any)
	if !ok {
		t.Fatalf("expected series array, got %v", body["series"])
	}
	if len(series) != 4 {
		t.Errorf("expected 4 entries, got %d", len(series))
	}
	for _, entry := range series {
		m := entry.(map[string]any)
		if m["status"] != "unknown" {
			t.Errorf("expected unknown status for empty months, got %v", m["status"])
		}
	}
}

func TestTimeSeriesMonthsBackCap(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/ndvi/timeseries/location/1?months_back=120", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for oversized window, got %d", resp.StatusCode)
	}
	if src.callCount() != 0 {
		t.Error("rejected request must not fan out to the imagery source")
	}
}

func TestChatDemoMode(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	payload, _ := json.Marshal(map[string]any{
		"message": "hello",
		"conversation_history": []map[string]string{
			{"role": "user", "content": "earlier question"},
			{"role": "assistant", "content": "earlier answer"},
		},
	})
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["response"] == "" {
		t.Error("expected a non-empty reply")
	}
	history, ok := body["conversation_history"].([]any)
	if !ok {
		t.Fatalf("expected conversation_history array, got %v", body["conversation_history"])
	}
	if len(history) != 4 {
		t.Errorf("expected history to grow by 2, got %d entries", len(history))
	}
}

func TestChatRequiresMessage(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthWithoutPinger(t *testing.T) {
	// The fake does not implement Ping, so the source counts as
	// unavailable and health reports degraded.
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded status, got %v", body["status"])
	}
	if body["source_available"] != false {
		t.Error("expected source_available false")
	}
}

func TestAnalyticsSummary(t *testing.T) {
	src := &fakeSource{fetch: func() ([]imagery.ImageCandidate, error) { return nil, nil }}
	app := newTestApp(t, src)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/analytics/summary", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	if body["suppliers"] != float64(10) {
		t.Errorf("expected 10 suppliers, got %v", body["suppliers"])
	}
	if body["monitored"] != float64(0) {
		t.Errorf("expected 0 monitored with an empty store, got %v", body["monitored"])
	}
}
