package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig carries everything assembled at startup. Established once
// and never mutated afterwards.
type AppConfig struct {
	Port string

	// Imagery catalog access.
	CatalogURL          string
	CatalogCollection   string
	CatalogTokenURL     string
	CatalogClientID     string
	CatalogClientSecret string
	CatalogTimeout      time.Duration

	// Query defaults applied when the caller omits parameters.
	DefaultRadiusM    float64
	DefaultDaysBack   int
	DefaultMonthsBack int
	MaxCloudCover     float64

	// Background refresh job and snapshot retention.
	RefreshInterval time.Duration
	StoreMaxHistory int
	StoreMaxAge     time.Duration

	// Optional YAML supplier registry override.
	SuppliersFile string

	// Chat agent.
	GeminiAPIKey string
	GeminiModel  string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		Port:                getenvDefault("PORT", "8080"),
		CatalogURL:          getenvDefault("CATALOG_URL", "https://catalogue.dataspace.copernicus.eu/stac"),
		CatalogCollection:   getenvDefault("CATALOG_COLLECTION", "sentinel-2-l2a"),
		CatalogTokenURL:     os.Getenv("CATALOG_TOKEN_URL"),
		CatalogClientID:     os.Getenv("CATALOG_CLIENT_ID"),
		CatalogClientSecret: os.Getenv("CATALOG_CLIENT_SECRET"),
		SuppliersFile:       os.Getenv("SUPPLIERS_FILE"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getenvDefault("GEMINI_MODEL", "gemini-2.5-flash"),
	}

	var err error
	if cfg.CatalogTimeout, err = getenvDuration("CATALOG_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "6h"); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "2160h"); err != nil { // ~90 days
		return nil, err
	}

	cfg.DefaultRadiusM = getenvFloat("DEFAULT_RADIUS_M", 1000)
	cfg.DefaultDaysBack = getenvInt("DEFAULT_DAYS_BACK", 30)
	cfg.DefaultMonthsBack = getenvInt("DEFAULT_MONTHS_BACK", 6)
	cfg.MaxCloudCover = getenvFloat("MAX_CLOUD_COVER", 0.2)
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 90)

	if cfg.MaxCloudCover < 0 || cfg.MaxCloudCover > 1 {
		return nil, fmt.Errorf("MAX_CLOUD_COVER must be in [0,1], got %v", cfg.MaxCloudCover)
	}
	if cfg.DefaultRadiusM <= 0 {
		return nil, fmt.Errorf("DEFAULT_RADIUS_M must be positive, got %v", cfg.DefaultRadiusM)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
