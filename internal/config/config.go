package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultFeedURL is the SyncFeed 2.0 endpoint of the Dutch parliament's
// open data platform.
const DefaultFeedURL = "https://gegevensmagazijn.tweedekamer.nl/SyncFeed/2.0/Feed"

// Common contains output-layout parameters shared by every binary.
type Common struct {
	OutputDir string
}

// Scraper holds configuration for the harvest pipeline.
type Scraper struct {
	Common
	FeedURL         string
	SessionCategory string
	ReportCategory  string
	SessionType     string
	MaxPages        int
	RequestDelay    time.Duration
	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	Workers         int
	Force           bool
	UserAgent       string

	// Optional post-persist exporters; empty means disabled.
	KafkaBrokers       []string
	KafkaTopic         string
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// API describes the archive browser's HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Repair configures the mojibake repair utility.
type Repair struct {
	Common
	DryRun bool
}

// LoadScraper builds a Scraper config from environment variables.
func LoadScraper() (*Scraper, error) {
	c := &Scraper{
		Common: Common{
			OutputDir: getEnv("OUTPUT_DIR", "output"),
		},
		FeedURL:            getEnv("FEED_URL", DefaultFeedURL),
		SessionCategory:    getEnv("SESSION_CATEGORY", "Vergadering"),
		ReportCategory:     getEnv("REPORT_CATEGORY", "Verslag"),
		SessionType:        getEnv("SESSION_TYPE", "Plenair"),
		MaxPages:           getInt("SCRAPER_MAX_PAGES", 50),
		RequestDelay:       getDuration("SCRAPER_REQUEST_DELAY", "200ms"),
		RequestTimeout:     getDuration("SCRAPER_REQUEST_TIMEOUT", "30s"),
		RetryAttempts:      getInt("SCRAPER_RETRY_ATTEMPTS", 3),
		RetryBackoff:       getDuration("SCRAPER_RETRY_BACKOFF", "1s"),
		Workers:            getInt("SCRAPER_WORKERS", 1),
		Force:              getBool("SCRAPER_FORCE", false),
		UserAgent:          getEnv("SCRAPER_USER_AGENT", "Dutch Parliament Transcript Scraper 1.0"),
		KafkaBrokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "transcripts"),
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "transcripts"),
	}

	if c.OutputDir == "" {
		return nil, fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.FeedURL == "" {
		return nil, fmt.Errorf("FEED_URL must not be empty")
	}
	if c.MaxPages < 0 {
		return nil, fmt.Errorf("SCRAPER_MAX_PAGES cannot be negative")
	}
	if c.RequestDelay < 0 {
		return nil, fmt.Errorf("SCRAPER_REQUEST_DELAY cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return nil, fmt.Errorf("SCRAPER_REQUEST_TIMEOUT must be positive")
	}
	if c.RetryAttempts <= 0 {
		return nil, fmt.Errorf("SCRAPER_RETRY_ATTEMPTS must be positive")
	}
	if c.Workers <= 0 {
		return nil, fmt.Errorf("SCRAPER_WORKERS must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common: Common{
			OutputDir: getEnv("OUTPUT_DIR", "output"),
		},
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.OutputDir == "" {
		return nil, fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadRepair builds a Repair config from environment variables.
func LoadRepair() (*Repair, error) {
	c := &Repair{
		Common: Common{
			OutputDir: getEnv("OUTPUT_DIR", "output"),
		},
		DryRun: getBool("REPAIR_DRY_RUN", false),
	}

	if c.OutputDir == "" {
		return nil, fmt.Errorf("OUTPUT_DIR must not be empty")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
