package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Log       LogConfig       `yaml:"log"`
	Browser   BrowserConfig   `yaml:"browser"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	MaxAgeMs         int      `yaml:"maxAgeMs"`
}

func (c CorsConfig) Methods() []string {
	if len(c.AllowMethods) == 0 {
		return []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	return c.AllowMethods
}

func (c CorsConfig) Headers() []string {
	if len(c.AllowHeaders) == 0 {
		return []string{"Content-Type"}
	}
	return c.AllowHeaders
}

func (c CorsConfig) MaxAge() time.Duration {
	if c.MaxAgeMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.MaxAgeMs) * time.Millisecond
}

type StorageConfig struct {
	// Driver is "sqlite" (default) or "mongo".
	Driver     string      `yaml:"driver"`
	SQLitePath string      `yaml:"sqlitePath"`
	Mongo      MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI       string `yaml:"uri"`
	Database  string `yaml:"database"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

func (c MongoConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type SecretsConfig struct {
	EncryptionKey string `yaml:"encryptionKey"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	BusCapacity int    `yaml:"busCapacity"`
}

type BrowserConfig struct {
	// Driver is "rod" (default) or "playwright".
	Driver        string   `yaml:"driver"`
	Headless      *bool    `yaml:"headless"`
	BinPath       string   `yaml:"binPath"`
	ProfilesDir   string   `yaml:"profilesDir"`
	MaxConcurrent int      `yaml:"maxConcurrent"`
	MemoryMB      int      `yaml:"memoryMB"`
	ViewportW     int      `yaml:"viewportWidth"`
	ViewportH     int      `yaml:"viewportHeight"`
	NavTimeoutMs  int      `yaml:"navTimeoutMs"`
	BlockPatterns []string `yaml:"blockPatterns"`
	UserAgents    []string `yaml:"userAgents"`
	// InstallBrowsers lets the playwright driver download chromium on first
	// launch.
	InstallBrowsers bool `yaml:"installBrowsers"`
}

func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (c BrowserConfig) NavTimeout() time.Duration {
	if c.NavTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.NavTimeoutMs) * time.Millisecond
}

type ProxyConfig struct {
	ProbeURL         string      `yaml:"probeURL"`
	ProbeTimeoutMs   int         `yaml:"probeTimeoutMs"`
	TestIntervalMs   int         `yaml:"testIntervalMs"`
	SweepSchedule    string      `yaml:"sweepSchedule"`
	SweepConcurrency int         `yaml:"sweepConcurrency"`
	Cache            CacheConfig `yaml:"cache"`
}

func (c ProxyConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

func (c ProxyConfig) TestInterval() time.Duration {
	if c.TestIntervalMs <= 0 {
		return time.Hour
	}
	return time.Duration(c.TestIntervalMs) * time.Millisecond
}

type CacheConfig struct {
	// Driver is "memory" (default) or "redis".
	Driver   string `yaml:"driver"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SchedulerConfig struct {
	MinDelayMs  int           `yaml:"minDelayMs"`
	MaxDelayMs  int           `yaml:"maxDelayMs"`
	RetryBudget int           `yaml:"retryBudget"`
	GlobalQPS   float64       `yaml:"globalQPS"`
	GlobalBurst int           `yaml:"globalBurst"`
	Seed        uint64        `yaml:"seed"`
	Backoff     BackoffConfig `yaml:"backoff"`
}

func (c SchedulerConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

func (c SchedulerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

type BackoffConfig struct {
	InitialMs  int     `yaml:"initialMs"`
	MaxMs      int     `yaml:"maxMs"`
	Multiplier float64 `yaml:"multiplier"`
}

func (c BackoffConfig) Initial() time.Duration {
	if c.InitialMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.InitialMs) * time.Millisecond
}

func (c BackoffConfig) Max() time.Duration {
	if c.MaxMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.MaxMs) * time.Millisecond
}

type NotifyConfig struct {
	Email EmailConfig `yaml:"email"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	// SummaryWindowMs batches events finishing within the window into one
	// message. Zero sends each event on its own.
	SummaryWindowMs int `yaml:"summaryWindowMs"`
}

func (c EmailConfig) SummaryWindow() time.Duration {
	if c.SummaryWindowMs <= 0 {
		return 0
	}
	return time.Duration(c.SummaryWindowMs) * time.Millisecond
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, for runs without a
// config file.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/airdrop_manager.db"
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "airdrop_manager"
	}
	if c.Secrets.EncryptionKey == "" {
		c.Secrets.EncryptionKey = os.Getenv("AIRDROP_ENCRYPTION_KEY")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.BusCapacity <= 0 {
		c.Log.BusCapacity = 500
	}
	if c.Browser.Driver == "" {
		c.Browser.Driver = "rod"
	}
	if c.Browser.ProfilesDir == "" {
		c.Browser.ProfilesDir = "./data/browser_profiles"
	}
	if c.Browser.MaxConcurrent == 0 {
		c.Browser.MaxConcurrent = 5
	}
	if c.Browser.MemoryMB == 0 {
		c.Browser.MemoryMB = 512
	}
	if c.Browser.ViewportW <= 0 {
		c.Browser.ViewportW = 1366
	}
	if c.Browser.ViewportH <= 0 {
		c.Browser.ViewportH = 768
	}
	if c.Proxy.ProbeURL == "" {
		c.Proxy.ProbeURL = "https://www.google.com"
	}
	if c.Proxy.SweepConcurrency <= 0 {
		c.Proxy.SweepConcurrency = 4
	}
	if c.Proxy.Cache.Driver == "" {
		c.Proxy.Cache.Driver = "memory"
	}
	if c.Proxy.Cache.Prefix == "" {
		c.Proxy.Cache.Prefix = "airdrop:proxytest:"
	}
	if c.Scheduler.MinDelayMs == 0 {
		c.Scheduler.MinDelayMs = 5000
	}
	if c.Scheduler.MaxDelayMs == 0 {
		c.Scheduler.MaxDelayMs = 15000
	}
	if c.Scheduler.RetryBudget == 0 {
		c.Scheduler.RetryBudget = 2
	}
	if c.Scheduler.GlobalQPS <= 0 {
		c.Scheduler.GlobalQPS = 2
	}
	if c.Scheduler.GlobalBurst <= 0 {
		c.Scheduler.GlobalBurst = 4
	}
	if c.Scheduler.Backoff.Multiplier <= 1 {
		c.Scheduler.Backoff.Multiplier = 2
	}
	if c.Notify.Email.Port == 0 {
		c.Notify.Email.Port = 465
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Browser.Driver {
	case "rod", "playwright":
	default:
		return fmt.Errorf("browser.driver %q is not supported", c.Browser.Driver)
	}
	if c.Browser.MaxConcurrent < 1 {
		return errors.New("browser.maxConcurrent must be at least 1")
	}
	if c.Browser.MemoryMB < 256 {
		return errors.New("browser.memoryMB must be at least 256")
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	switch c.Proxy.Cache.Driver {
	case "memory":
	case "redis":
		if c.Proxy.Cache.Addr == "" {
			return errors.New("proxy.cache.addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("proxy.cache.driver %q is not supported", c.Proxy.Cache.Driver)
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Host == "" || len(c.Notify.Email.To) == 0) {
		return errors.New("notify.email requires host and at least one recipient")
	}
	return nil
}

func (c SchedulerConfig) validate() error {
	if c.MinDelayMs < 1000 {
		return errors.New("scheduler.minDelayMs must be at least 1000")
	}
	if c.MaxDelayMs <= c.MinDelayMs {
		return errors.New("scheduler.maxDelayMs must be greater than minDelayMs")
	}
	if c.RetryBudget < 1 {
		return errors.New("scheduler.retryBudget must be at least 1")
	}
	return nil
}
