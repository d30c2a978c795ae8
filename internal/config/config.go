// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobs-crawler/internal/crawler"
)

// Browser modes and storage drivers accepted by Validate.
const (
	BrowserHeadless = "headless"
	BrowserStatic   = "static"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig    `mapstructure:"crawler"`
	Browser  BrowserConfig    `mapstructure:"browser"`
	Batch    BatchConfig      `mapstructure:"batch"`
	Storage  StorageConfig    `mapstructure:"storage"`
	DB       DBConfig         `mapstructure:"db"`
	Server   ServerConfig     `mapstructure:"server"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Locators crawler.Locators `mapstructure:"locators"`
}

// CrawlerConfig governs discovery and pagination.
type CrawlerConfig struct {
	RootURL          string `mapstructure:"root_url"`
	CategoryGroups   int    `mapstructure:"category_groups"`
	DedupeCategories bool   `mapstructure:"dedupe_categories"`
	MaxPages         int    `mapstructure:"max_pages_per_category"`
	ProbeAttempts    int    `mapstructure:"probe_attempts"`
	DateSeparator    string `mapstructure:"publish_date_separator"`
}

// BrowserConfig selects and tunes the DOM collaborator.
type BrowserConfig struct {
	// Mode is "headless" (chromedp) or "static" (colly, no JavaScript).
	Mode                string `mapstructure:"mode"`
	UserAgent           string `mapstructure:"user_agent"`
	NavTimeoutSeconds   int    `mapstructure:"nav_timeout_seconds"`
	ReadyTimeoutSeconds int    `mapstructure:"ready_timeout_seconds"`
	ShowWindow          bool   `mapstructure:"show_window"`
}

// BatchConfig controls buffered persistence.
type BatchConfig struct {
	Size          int    `mapstructure:"size"`
	FailurePolicy string `mapstructure:"failure_policy"`
	MaxRetained   int    `mapstructure:"max_retained"`
}

// StorageConfig selects the persistence collaborator.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
}

// DBConfig holds relational store connection parameters.
type DBConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	SSLMode     string `mapstructure:"sslmode"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	ResetSchema bool   `mapstructure:"reset_schema"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys to the plain variable names used in .env files.
var legacyEnv = map[string]string{
	"db.host":     "DB_HOST",
	"db.port":     "DB_PORT",
	"db.user":     "DB_USER",
	"db.password": "DB_PASSWORD",
	"db.name":     "DB_NAME",
}

// Load builds a Config from disk/environment. A .env file in envFile (or the
// working directory when empty) is loaded first if it exists.
func Load(path, envFile string) (Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("JOBCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "JOBCRAWLER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.root_url", "https://djinni.co/developers/?region=POL&base=active")
	v.SetDefault("crawler.category_groups", crawler.DefaultGroupCount)
	v.SetDefault("crawler.dedupe_categories", true)
	v.SetDefault("crawler.max_pages_per_category", 0)
	v.SetDefault("crawler.probe_attempts", 3)
	v.SetDefault("crawler.publish_date_separator", crawler.DefaultDateSeparator)
	v.SetDefault("browser.mode", BrowserHeadless)
	v.SetDefault("browser.user_agent", "jobs-crawler/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.ready_timeout_seconds", 15)
	v.SetDefault("browser.show_window", false)
	v.SetDefault("batch.size", crawler.DefaultBatchSize)
	v.SetDefault("batch.failure_policy", string(crawler.FailurePolicyRetain))
	v.SetDefault("batch.max_retained", 10*crawler.DefaultBatchSize)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.table", "jobs_data")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.reset_schema", false)
	v.SetDefault("logging.development", true)

	locators := crawler.DefaultLocators()
	v.SetDefault("locators.card", locators.Card)
	v.SetDefault("locators.title", locators.Title)
	v.SetDefault("locators.salary", locators.Salary)
	v.SetDefault("locators.country", locators.Country)
	v.SetDefault("locators.experience", locators.Experience)
	v.SetDefault("locators.job_status", locators.JobStatus)
	v.SetDefault("locators.published_date", locators.PublishedDate)
	v.SetDefault("locators.description", locators.Description)
	v.SetDefault("locators.badge", locators.Badge)
	v.SetDefault("locators.parent_next_control", locators.ParentNextControl)
	v.SetDefault("locators.next_control", locators.NextControl)
	v.SetDefault("locators.category_groups", locators.CategoryGroups)
	v.SetDefault("locators.category_link", locators.CategoryLink)
	v.SetDefault("locators.ready", locators.Ready)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.RootURL == "" {
		return fmt.Errorf("crawler.root_url must be set")
	}
	if _, err := url.ParseRequestURI(c.Crawler.RootURL); err != nil {
		return fmt.Errorf("crawler.root_url is invalid: %w", err)
	}
	if c.Crawler.CategoryGroups < 0 {
		return fmt.Errorf("crawler.category_groups must be >= 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages_per_category must be >= 0")
	}
	if c.Crawler.ProbeAttempts <= 0 {
		return fmt.Errorf("crawler.probe_attempts must be > 0")
	}
	switch c.Browser.Mode {
	case BrowserHeadless, BrowserStatic:
	default:
		return fmt.Errorf("browser.mode must be headless or static, got %q", c.Browser.Mode)
	}
	if c.Browser.NavTimeoutSeconds <= 0 || c.Browser.ReadyTimeoutSeconds <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be > 0")
	}
	if _, err := crawler.ParseFailurePolicy(c.Batch.FailurePolicy); err != nil {
		return fmt.Errorf("batch.failure_policy: %w", err)
	}
	if c.Batch.MaxRetained < 0 {
		return fmt.Errorf("batch.max_retained must be >= 0")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.Name == "" || c.DB.User == "" {
			return fmt.Errorf("db.host, db.name and db.user must be set for the postgres driver")
		}
		if c.DB.Port <= 0 {
			return fmt.Errorf("db.port must be > 0")
		}
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	if err := c.Locators.Validate(); err != nil {
		return err
	}
	return nil
}

// DSN renders the connection parameters as a postgres URL.
func (d DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// NavTimeout converts the navigation timeout to a duration.
func (b BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(b.NavTimeoutSeconds) * time.Second
}

// ReadyTimeout converts the readiness wait bound to a duration.
func (b BrowserConfig) ReadyTimeout() time.Duration {
	return time.Duration(b.ReadyTimeoutSeconds) * time.Second
}

// CrawlerSettings projects the config onto the pipeline's knobs.
func (c Config) CrawlerSettings() crawler.Config {
	policy, _ := crawler.ParseFailurePolicy(c.Batch.FailurePolicy)
	return crawler.Config{
		RootURL:       c.Crawler.RootURL,
		Locators:      c.Locators,
		GroupCount:    c.Crawler.CategoryGroups,
		Dedupe:        c.Crawler.DedupeCategories,
		MaxPages:      c.Crawler.MaxPages,
		DateSeparator: c.Crawler.DateSeparator,
		BatchSize:     c.Batch.Size,
		FailurePolicy: policy,
		MaxRetained:   c.Batch.MaxRetained,
	}
}
