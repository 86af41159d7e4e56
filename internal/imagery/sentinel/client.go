// Package sentinel implements the imagery.Source contract against a
// STAC-style Sentinel-2 L2A search catalog.
package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/swisscorp/agrisat/internal/imagery"
)

const (
	defaultCollection = "sentinel-2-l2a"
	defaultTimeout    = 30 * time.Second
	searchLimit       = 50

	// Mean Earth radius approximation for meter→degree conversion.
	metersPerDegreeLat = 111320.0
)

// Config holds the catalog client construction parameters. Credentials
// may be absent: the client is still constructed and surfaces
// imagery.ErrSourceUnavailable on first use, so the rest of the
// application stays usable.
type Config struct {
	BaseURL      string
	Collection   string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client queries the remote Sentinel-2 catalog. Safe for concurrent use;
// all mutable state is confined to the token source and circuit breaker,
// which synchronize internally.
type Client struct {
	baseURL    string
	collection string
	timeout    time.Duration
	httpClient *http.Client
	tokens     oauth2.TokenSource
	circuit    *gobreaker.CircuitBreaker

	closeOnce sync.Once
}

// NewClient constructs a catalog client. Construction never fails on
// missing credentials by design (see Config).
func NewClient(cfg Config) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sentinel-catalog",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	c := &Client{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		circuit:    cb,
	}
	if c.collection == "" {
		c.collection = defaultCollection
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		// Token requests must share the timeout-bearing client; the
		// default client would let a hung token endpoint block forever.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.tokens = cc.TokenSource(tokenCtx)
	}

	return c
}

// Close releases client resources. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
	})
}

// searchRequest is the STAC item-search payload.
type searchRequest struct {
	Collections []string                  `json:"collections"`
	Bbox        [4]float64                `json:"bbox"`
	Datetime    string                    `json:"datetime"`
	Limit       int                       `json:"limit"`
	Query       map[string]map[string]any `json:"query"`
	SortBy      []sortSpec                `json:"sortby"`
}

type sortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// featureCollection mirrors the catalog's GeoJSON search response.
type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Properties struct {
		Datetime   string  `json:"datetime"`
		CloudCover float64 `json:"eo:cloud_cover"` // percentage
	} `json:"properties"`
	Assets map[string]asset `json:"assets"`
}

type asset struct {
	Bands []struct {
		Statistics struct {
			Mean float64 `json:"mean"`
		} `json:"statistics"`
	} `json:"raster:bands"`
}

// FetchCandidates implements imagery.Source. Cloud filtering is applied
// server-side via the eo:cloud_cover query so unusable imagery is never
// transferred; results come back most recent first.
func (c *Client) FetchCandidates(ctx context.Context, area imagery.QueryArea, start, end time.Time, maxCloudCover float64) ([]imagery.ImageCandidate, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("%w: catalog credentials not configured", imagery.ErrSourceUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token request failed: %v", imagery.ErrSourceUnavailable, err)
	}

	body := searchRequest{
		Collections: []string{c.collection},
		Bbox:        boundingBox(area),
		Datetime:    fmt.Sprintf("%s/%s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)),
		Limit:       searchLimit,
		Query: map[string]map[string]any{
			"eo:cloud_cover": {"lt": maxCloudCover * 100},
		},
		SortBy: []sortSpec{{Field: "properties.datetime", Direction: "desc"}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := doRequest(ctx, c.httpClient, c.circuit, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("%w: malformed catalog response: %v", imagery.ErrSourceUnavailable, err)
	}

	candidates := make([]imagery.ImageCandidate, 0, len(fc.Features))
	for _, f := range fc.Features {
		cand, ok := toCandidate(f, maxCloudCover)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
	}

	// The catalog sorts for us, but the ordering contract is ours to keep.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].AcquisitionDate.After(candidates[j].AcquisitionDate)
	})

	return candidates, nil
}

// Ping reports backend reachability by fetching the catalog landing page.
func (c *Client) Ping(ctx context.Context) error {
	if c.tokens == nil {
		return fmt.Errorf("%w: catalog credentials not configured", imagery.ErrSourceUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: token request failed: %v", imagery.ErrSourceUnavailable, err)
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)

	resp, err := doRequest(ctx, c.httpClient, c.circuit, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// toCandidate extracts band statistics from a catalog feature. Features
// missing the red/nir statistics are skipped; the client-side cloud
// check is a guard against catalogs that ignore the query filter.
func toCandidate(f feature, maxCloudCover float64) (imagery.ImageCandidate, bool) {
	cloud := f.Properties.CloudCover / 100
	if cloud >= maxCloudCover {
		return imagery.ImageCandidate{}, false
	}

	acquired, err := time.Parse(time.RFC3339, f.Properties.Datetime)
	if err != nil {
		return imagery.ImageCandidate{}, false
	}

	red, ok := bandMean(f.Assets, "red")
	if !ok {
		return imagery.ImageCandidate{}, false
	}
	nir, ok := bandMean(f.Assets, "nir")
	if !ok {
		return imagery.ImageCandidate{}, false
	}

	return imagery.ImageCandidate{
		AcquisitionDate: acquired.UTC(),
		CloudCover:      cloud,
		Red:             red,
		NIR:             nir,
	}, true
}

func bandMean(assets map[string]asset, key string) (float64, bool) {
	a, ok := assets[key]
	if !ok || len(a.Bands) == 0 {
		return 0, false
	}
	return a.Bands[0].Statistics.Mean, true
}

// boundingBox converts the circular query area into the [west, south,
// east, north] bbox the catalog expects.
func boundingBox(area imagery.QueryArea) [4]float64 {
	dLat := area.RadiusMeters / metersPerDegreeLat
	dLon := dLat
	if cosLat := math.Cos(area.Center.Lat * math.Pi / 180); cosLat > 1e-6 {
		dLon = dLat / cosLat
	}
	return [4]float64{
		area.Center.Lon - dLon,
		area.Center.Lat - dLat,
		area.Center.Lon + dLon,
		area.Center.Lat + dLat,
	}
}
