package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/tileboard/internal/model"
)

// AppConfig is the process configuration. The dashboard document itself is
// owned by Store; this covers everything around it.
type AppConfig struct {
	Name string

	DashboardPath string
	ThemesFile    string
	GridSlots     int
	Watch         bool
	WatchDebounce time.Duration

	HistoryEnabled   bool
	HistoryPath      string
	HistoryRetention time.Duration

	NATSEnabled        bool
	NATSURL            string
	NATSMaxReconnects  int
	NATSReconnectWait  time.Duration
	NATSConnectTimeout time.Duration

	RenderInterval time.Duration

	ProviderTimeout time.Duration
	Backoff         BackoffConfig

	// Cadences holds per-kind overrides of the provider default cadence
	Cadences map[model.TileKind]time.Duration

	WeatherLatitude  float64
	WeatherLongitude float64
	FinanceSymbol    string
	NewsAPIKey       string
	NewsCountry      string
	CalendarPath     string
	HTTPCacheTTL     time.Duration
	HTTPCacheSize    int

	Alerts AlertsConfig

	MetricsEnabled  bool
	MetricsInterval time.Duration

	LogLevel       string
	LogDevelopment bool
}

// BackoffConfig configures cadence stretching after consecutive failures
type BackoffConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// AlertsConfig configures tile alerting
type AlertsConfig struct {
	Enabled          bool
	CheckInterval    time.Duration
	FailureThreshold int
	HungAfter        time.Duration
	CPUThreshold     float64
	MemoryThreshold  float64
}

// SetDefaults registers the default value of every process setting
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tileboard")

	v.SetDefault("dashboard.path", DefaultFileName)
	v.SetDefault("dashboard.themes_file", "")
	v.SetDefault("dashboard.grid_slots", DefaultGridSlots)
	v.SetDefault("dashboard.watch", true)
	v.SetDefault("dashboard.watch_debounce", 500*time.Millisecond)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "refresh_history.db")
	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("render.interval", time.Second)

	v.SetDefault("provider_timeout", time.Duration(0))
	v.SetDefault("backoff.enabled", true)
	v.SetDefault("backoff.initial_delay", 30*time.Second)
	v.SetDefault("backoff.max_delay", 30*time.Minute)
	v.SetDefault("backoff.multiplier", 2.0)

	v.SetDefault("weather.latitude", 42.3601)
	v.SetDefault("weather.longitude", -71.0589)
	v.SetDefault("finance.symbol", "SPY")
	v.SetDefault("news.api_key", "")
	v.SetDefault("news.country", "us")
	v.SetDefault("calendar.path", "calendar.db")
	v.SetDefault("http.cache_ttl", time.Hour)
	v.SetDefault("http.cache_size", 256)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.check_interval", 10*time.Second)
	v.SetDefault("alerts.failure_threshold", 3)
	v.SetDefault("alerts.hung_after", 2*time.Minute)
	v.SetDefault("alerts.cpu_threshold", 90.0)
	v.SetDefault("alerts.memory_threshold", 90.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// NewViper returns a viper instance with defaults, environment binding and,
// when present, the config file. An explicit file must exist; the default
// search locations may be empty.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("TILEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("tileboard")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// LoadApp reads the process configuration out of v
func LoadApp(v *viper.Viper) *AppConfig {
	cfg := &AppConfig{
		Name: v.GetString("app.name"),

		DashboardPath: v.GetString("dashboard.path"),
		ThemesFile:    v.GetString("dashboard.themes_file"),
		GridSlots:     v.GetInt("dashboard.grid_slots"),
		Watch:         v.GetBool("dashboard.watch"),
		WatchDebounce: v.GetDuration("dashboard.watch_debounce"),

		HistoryEnabled:   v.GetBool("history.enabled"),
		HistoryPath:      v.GetString("history.path"),
		HistoryRetention: v.GetDuration("history.retention"),

		NATSEnabled:        v.GetBool("nats.enabled"),
		NATSURL:            v.GetString("nats.url"),
		NATSMaxReconnects:  v.GetInt("nats.max_reconnects"),
		NATSReconnectWait:  v.GetDuration("nats.reconnect_wait"),
		NATSConnectTimeout: v.GetDuration("nats.connect_timeout"),

		RenderInterval: v.GetDuration("render.interval"),

		ProviderTimeout: v.GetDuration("provider_timeout"),
		Backoff: BackoffConfig{
			Enabled:      v.GetBool("backoff.enabled"),
			InitialDelay: v.GetDuration("backoff.initial_delay"),
			MaxDelay:     v.GetDuration("backoff.max_delay"),
			Multiplier:   v.GetFloat64("backoff.multiplier"),
		},
		Cadences: make(map[model.TileKind]time.Duration),

		WeatherLatitude:  v.GetFloat64("weather.latitude"),
		WeatherLongitude: v.GetFloat64("weather.longitude"),
		FinanceSymbol:    v.GetString("finance.symbol"),
		NewsAPIKey:       v.GetString("news.api_key"),
		NewsCountry:      v.GetString("news.country"),
		CalendarPath:     v.GetString("calendar.path"),
		HTTPCacheTTL:     v.GetDuration("http.cache_ttl"),
		HTTPCacheSize:    v.GetInt("http.cache_size"),

		Alerts: AlertsConfig{
			Enabled:          v.GetBool("alerts.enabled"),
			CheckInterval:    v.GetDuration("alerts.check_interval"),
			FailureThreshold: v.GetInt("alerts.failure_threshold"),
			HungAfter:        v.GetDuration("alerts.hung_after"),
			CPUThreshold:     v.GetFloat64("alerts.cpu_threshold"),
			MemoryThreshold:  v.GetFloat64("alerts.memory_threshold"),
		},

		MetricsEnabled:  v.GetBool("metrics.enabled"),
		MetricsInterval: v.GetDuration("metrics.interval"),

		LogLevel:       v.GetString("log.level"),
		LogDevelopment: v.GetBool("log.development"),
	}

	if cfg.GridSlots <= 0 {
		cfg.GridSlots = DefaultGridSlots
	}
	for _, kind := range model.Kinds() {
		key := "cadences." + kind.String()
		if !v.IsSet(key) {
			continue
		}
		if d := v.GetDuration(key); d > 0 {
			cfg.Cadences[kind] = d
		}
	}
	return cfg
}
