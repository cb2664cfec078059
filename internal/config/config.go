package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Crawl    CrawlConfig
	Fetch    FetchConfig
	Match    MatchConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type CrawlConfig struct {
	BaseURL   string
	Series    string
	Years     []int
	Country   string
	OutputDir string
	PageSize  int
	Workers   int
}

type FetchConfig struct {
	DownloadDelay    time.Duration
	Timeout          time.Duration
	UserAgent        string
	ProxyURL         string
	ZyteKey          string
	CloudflareBypass bool
}

type MatchConfig struct {
	PriceTrackerURL string
	MarketplaceURL  string
	MaxResults      int
	Threshold       float64
	KnownBadAssets  []string
}

type StorageConfig struct {
	Backend           string
	Bucket            string
	Region            string
	Endpoint          string
	PublicURL         string
	KeyPrefix         string
	Dir               string
	UploadAttempts    int
	UploadBackoffBase float64
	AssetWorkers      int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	StreamMaxLen int64
}

type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

const zyteProxyHost = "api.zyte.com:8011"

func Load() (*Config, error) {
	years, err := ParseYears(getEnvOrDefault("YEARS", strconv.Itoa(time.Now().Year())))
	if err != nil {
		return nil, fmt.Errorf("invalid YEARS: %w", err)
	}

	cfg := &Config{
		Crawl: CrawlConfig{
			BaseURL:   getEnvOrDefault("CATALOG_BASE_URL", "https://www.blu-ray.com"),
			Series:    getEnvOrDefault("SERIES", "bluray"),
			Years:     years,
			Country:   getEnvOrDefault("COUNTRY", "us"),
			OutputDir: getEnvOrDefault("OUTPUT_DIR", "data"),
			PageSize:  getIntOrDefault("PAGE_SIZE", 20),
			Workers:   getIntOrDefault("CRAWL_WORKERS", 8),
		},
		Fetch: FetchConfig{
			DownloadDelay:    getDurationOrDefault("DOWNLOAD_DELAY", time.Second),
			Timeout:          getDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
			UserAgent:        getEnvOrDefault("USER_AGENT", "Mozilla/5.0"),
			ProxyURL:         getEnvOrDefault("PROXY_URL", ""),
			ZyteKey:          getEnvOrDefault("ZYTE_KEY", ""),
			CloudflareBypass: getBoolOrDefault("CLOUDFLARE_BYPASS", false),
		},
		Match: MatchConfig{
			PriceTrackerURL: getEnvOrDefault("PRICE_TRACKER_BASE_URL", "https://camelcamelcamel.com"),
			MarketplaceURL:  getEnvOrDefault("MARKETPLACE_BASE_URL", "https://www.ebay.com"),
			MaxResults:      getIntOrDefault("MARKETPLACE_MAX_RESULTS", 3),
			Threshold:       getFloatOrDefault("MATCH_THRESHOLD", 80),
			KnownBadAssets:  getStringSliceOrDefault("ASSET_KNOWN_BAD", []string{"1158_2", "1158_3"}),
		},
		Storage: StorageConfig{
			Backend:           getEnvOrDefault("STORAGE_BACKEND", "local"),
			Bucket:            getEnvOrDefault("S3_BUCKET", ""),
			Region:            getEnvOrDefault("S3_REGION", ""),
			Endpoint:          getEnvOrDefault("S3_ENDPOINT", ""),
			PublicURL:         getEnvOrDefault("STORAGE_PUBLIC_URL", ""),
			KeyPrefix:         getEnvOrDefault("STORAGE_KEY_PREFIX", ""),
			Dir:               getEnvOrDefault("STORAGE_DIR", "data/images"),
			UploadAttempts:    getIntOrDefault("UPLOAD_ATTEMPTS", 5),
			UploadBackoffBase: getFloatOrDefault("UPLOAD_BACKOFF_BASE", 2),
			AssetWorkers:      getIntOrDefault("ASSET_WORKERS", 4),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", ""),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 0)),
		},
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8084),
			ShutdownTimeout: getDurationOrDefault("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Crawl.Years) == 0 {
		errs = append(errs, errors.New("at least one year is required"))
	}
	switch strings.ToLower(c.Crawl.Series) {
	case "bluray", "3d", "dvd":
	default:
		errs = append(errs, fmt.Errorf("SERIES must be bluray, 3d or dvd, got %q", c.Crawl.Series))
	}
	if u, err := url.Parse(c.Crawl.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("CATALOG_BASE_URL is not an absolute URL: %q", c.Crawl.BaseURL))
	}
	if c.Crawl.Country == "" {
		errs = append(errs, errors.New("COUNTRY is required"))
	}
	if c.Crawl.PageSize < 1 {
		errs = append(errs, errors.New("PAGE_SIZE must be at least 1"))
	}
	if c.Crawl.Workers < 1 {
		errs = append(errs, errors.New("CRAWL_WORKERS must be at least 1"))
	}
	if c.Fetch.DownloadDelay < 0 {
		errs = append(errs, errors.New("DOWNLOAD_DELAY cannot be negative"))
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 100 {
		errs = append(errs, errors.New("MATCH_THRESHOLD must be in (0, 100]"))
	}
	if c.Match.MaxResults < 1 {
		errs = append(errs, errors.New("MARKETPLACE_MAX_RESULTS must be at least 1"))
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", c.Storage.Backend))
	}
	if c.Storage.UploadAttempts < 1 {
		errs = append(errs, errors.New("UPLOAD_ATTEMPTS must be at least 1"))
	}
	if c.Storage.UploadBackoffBase < 1 {
		errs = append(errs, errors.New("UPLOAD_BACKOFF_BASE must be at least 1"))
	}
	if c.Storage.AssetWorkers < 1 {
		errs = append(errs, errors.New("ASSET_WORKERS must be at least 1"))
	}
	if c.Redis.Addr != "" && c.Database.URL == "" {
		errs = append(errs, errors.New("REDIS_ADDR requires DATABASE_URL for the outbox"))
	}

	return errors.Join(errs...)
}

// EffectiveProxyURL is the upstream proxy for auxiliary sites: PROXY_URL when set,
// otherwise the Zyte endpoint with ZYTE_KEY as user.
func (c *FetchConfig) EffectiveProxyURL() string {
	if c.ProxyURL != "" {
		return c.ProxyURL
	}
	if c.ZyteKey == "" {
		return ""
	}
	u := url.URL{Scheme: "http", User: url.UserPassword(c.ZyteKey, ""), Host: zyteProxyHost}
	return u.String()
}

// ParseYears accepts "2023", "2019-2023" or "2019,2021" and combinations
// like "2015,2019-2021". The result is sorted and free of duplicates.
func ParseYears(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		from, to := part, part
		if i := strings.Index(part, "-"); i > 0 {
			from, to = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		start, err := parseYear(from)
		if err != nil {
			return nil, err
		}
		end, err := parseYear(to)
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("empty year range %q", part)
		}
		for y := start; y <= end; y++ {
			seen[y] = true
		}
	}

	if len(seen) == 0 {
		return nil, errors.New("no years given")
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	if y < 1900 || y > 2100 {
		return 0, fmt.Errorf("year %d out of range", y)
	}
	return y, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return defaultValue
}
