// Package config handles application configuration from environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jobwatch/internal/model"
)

// Source holds the settings of one scraper.
type Source struct {
	Name    model.Source
	Enabled bool
	// BaseURL overrides the site's default endpoint when set.
	BaseURL string
}

// SMTP holds the outgoing mail settings.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	DatabaseURL  string
	RedisURL     string
	LogLevel     string
	HTTPAddr     string

	ScrapeInterval  time.Duration
	MaxRetries      int
	RequestDelay    time.Duration
	RequestTimeout  time.Duration
	DeliveryTimeout time.Duration
	FetchWorkers    int
	UserAgent       string

	Sources         []Source
	DefaultCriteria *model.SearchCriteria

	SMTP             SMTP
	TelegramBotToken string
	AllowedUsers     []int64

	ListingRetention      time.Duration
	NotificationRetention time.Duration
}

// fileConfig is the YAML layout. Pointer fields distinguish unset keys from
// zero values.
type fileConfig struct {
	DatabasePath              string                `yaml:"database_path"`
	DatabaseURL               string                `yaml:"database_url"`
	RedisURL                  string                `yaml:"redis_url"`
	LogLevel                  string                `yaml:"log_level"`
	HTTPAddr                  string                `yaml:"http_addr"`
	ScrapeIntervalMinutes     *int                  `yaml:"scrape_interval_minutes"`
	MaxRetries                *int                  `yaml:"max_retries"`
	RequestDelaySeconds       *int                  `yaml:"request_delay_seconds"`
	RequestTimeoutSeconds     *int                  `yaml:"request_timeout_seconds"`
	DeliveryTimeoutSeconds    *int                  `yaml:"delivery_timeout_seconds"`
	FetchWorkers              *int                  `yaml:"fetch_workers"`
	UserAgent                 string                `yaml:"user_agent"`
	Sources                   map[string]fileSource `yaml:"sources"`
	DefaultCriteria           *model.SearchCriteria `yaml:"default_criteria"`
	SMTP                      fileSMTP              `yaml:"smtp"`
	AllowedUsers              []int64               `yaml:"allowed_users"`
	ListingRetentionDays      *int                  `yaml:"listing_retention_days"`
	NotificationRetentionDays *int                  `yaml:"notification_retention_days"`
}

type fileSource struct {
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type fileSMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	From     string `yaml:"from"`
}

func defaults() *Config {
	return &Config{
		DatabasePath:    "./data/jobwatch.db",
		LogLevel:        "info",
		HTTPAddr:        ":8080",
		ScrapeInterval:  30 * time.Minute,
		MaxRetries:      3,
		RequestDelay:    2 * time.Second,
		RequestTimeout:  30 * time.Second,
		DeliveryTimeout: 30 * time.Second,
		FetchWorkers:    3,
		Sources: []Source{
			{Name: model.SourceLinkedIn, Enabled: true},
			{Name: model.SourceIndeed},
			{Name: model.SourceWeWorkRemotely},
		},
		SMTP:                  SMTP{Port: 587},
		ListingRetention:      90 * 24 * time.Hour,
		NotificationRetention: 30 * 24 * time.Hour,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.UserAgent, fc.UserAgent)
	setDuration(&c.ScrapeInterval, fc.ScrapeIntervalMinutes, time.Minute)
	setDuration(&c.RequestDelay, fc.RequestDelaySeconds, time.Second)
	setDuration(&c.RequestTimeout, fc.RequestTimeoutSeconds, time.Second)
	setDuration(&c.DeliveryTimeout, fc.DeliveryTimeoutSeconds, time.Second)
	setDuration(&c.ListingRetention, fc.ListingRetentionDays, 24*time.Hour)
	setDuration(&c.NotificationRetention, fc.NotificationRetentionDays, 24*time.Hour)
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.FetchWorkers != nil {
		c.FetchWorkers = *fc.FetchWorkers
	}

	for name, fs := range fc.Sources {
		src := c.source(model.Source(name))
		if src == nil {
			return fmt.Errorf("config file: unknown source %q", name)
		}
		if fs.Enabled != nil {
			src.Enabled = *fs.Enabled
		}
		setString(&src.BaseURL, fs.BaseURL)
	}

	if fc.DefaultCriteria != nil {
		c.DefaultCriteria = fc.DefaultCriteria
	}
	setString(&c.SMTP.Host, fc.SMTP.Host)
	setString(&c.SMTP.Username, fc.SMTP.Username)
	setString(&c.SMTP.From, fc.SMTP.From)
	if fc.SMTP.Port != 0 {
		c.SMTP.Port = fc.SMTP.Port
	}
	if len(fc.AllowedUsers) > 0 {
		c.AllowedUsers = fc.AllowedUsers
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.DatabasePath, os.Getenv("DATABASE_PATH"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.RedisURL, os.Getenv("REDIS_URL"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&c.UserAgent, os.Getenv("USER_AGENT"))
	setString(&c.SMTP.Host, os.Getenv("SMTP_HOST"))
	setString(&c.SMTP.Username, os.Getenv("SMTP_USERNAME"))
	setString(&c.SMTP.Password, os.Getenv("SMTP_PASSWORD"))
	setString(&c.SMTP.From, os.Getenv("FROM_EMAIL"))
	setString(&c.TelegramBotToken, os.Getenv("TELEGRAM_BOT_TOKEN"))

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_RETRIES", &c.MaxRetries},
		{"FETCH_WORKERS", &c.FetchWorkers},
		{"SMTP_PORT", &c.SMTP.Port},
	}
	for _, e := range ints {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		unit time.Duration
	}{
		{"SCRAPE_INTERVAL_MINUTES", &c.ScrapeInterval, time.Minute},
		{"REQUEST_DELAY_SECONDS", &c.RequestDelay, time.Second},
		{"REQUEST_TIMEOUT_SECONDS", &c.RequestTimeout, time.Second},
		{"DELIVERY_TIMEOUT_SECONDS", &c.DeliveryTimeout, time.Second},
		{"LISTING_RETENTION_DAYS", &c.ListingRetention, 24 * time.Hour},
		{"NOTIFICATION_RETENTION_DAYS", &c.NotificationRetention, 24 * time.Hour},
	}
	for _, e := range durations {
		var n int
		ok, err := envIntOK(e.key, &n)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = time.Duration(n) * e.unit
		}
	}

	for i := range c.Sources {
		key := strings.ToUpper(string(c.Sources[i].Name)) + "_ENABLED"
		if err := envBool(key, &c.Sources[i].Enabled); err != nil {
			return err
		}
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		var allowedUsers []int64
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
		c.AllowedUsers = allowedUsers
	}
	return nil
}

func (c *Config) validate() error {
	if c.ScrapeInterval <= 0 {
		return fmt.Errorf("scrape interval must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.FetchWorkers < 1 {
		return fmt.Errorf("FETCH_WORKERS must be at least 1")
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("REQUEST_DELAY_SECONDS must not be negative")
	}
	if c.ListingRetention < 0 || c.NotificationRetention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if c.DefaultCriteria != nil {
		d := c.DefaultCriteria.WithDefaults()
		if err := d.Validate(); err != nil {
			return fmt.Errorf("default criteria: %w", err)
		}
		c.DefaultCriteria = &d
	}
	return nil
}

func (c *Config) source(name model.Source) *Source {
	i := slices.IndexFunc(c.Sources, func(s Source) bool { return s.Name == name })
	if i < 0 {
		return nil
	}
	return &c.Sources[i]
}

// EnabledSources returns the names of enabled sources.
func (c *Config) EnabledSources() []model.Source {
	var out []model.Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s.Name)
		}
	}
	return out
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *int, unit time.Duration) {
	if v != nil {
		*dst = time.Duration(*v) * unit
	}
}

func envInt(key string, dst *int) error {
	_, err := envIntOK(key, dst)
	return err
}

func envIntOK(key string, dst *int) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = n
	return true, nil
}

func envBool(key string, dst *bool) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = v
	return nil
}
