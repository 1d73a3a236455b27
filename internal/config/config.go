package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// startup and passed explicitly to the components that need it.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Filters    FiltersConfig    `yaml:"filters" mapstructure:"filters"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=file sqlite postgres"`
	Path        string `yaml:"path" mapstructure:"path" validate:"required_unless=Driver postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	// MaxConns and MinConns size the postgres pool; zero keeps the default.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// ScheduleConfig configures the time-of-day scheduler.
type ScheduleConfig struct {
	RunTimes   []string `yaml:"run_times" mapstructure:"run_times" validate:"min=1,dive,clock"`
	Timezone   string   `yaml:"timezone" mapstructure:"timezone" validate:"required,timezone"`
	RunOnStart bool     `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=1"`
	SourceTimeoutSecs int     `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gt=0"`
}

// SourcesConfig holds the marketplace entry points.
type SourcesConfig struct {
	Enabled        []string `yaml:"enabled" mapstructure:"enabled" validate:"min=1,dive,oneof=aeroconnect locatory myairtrade"`
	AeroconnectURL string   `yaml:"aeroconnect_url" mapstructure:"aeroconnect_url" validate:"url"`
	LocatoryURL    string   `yaml:"locatory_url" mapstructure:"locatory_url" validate:"url"`
	MyAirTradeURL  string   `yaml:"myairtrade_url" mapstructure:"myairtrade_url" validate:"url"`
}

// FiltersConfig gates which engine models are kept.
type FiltersConfig struct {
	ValidEngines   []string `yaml:"valid_engines" mapstructure:"valid_engines"`
	DesiredEngines []string `yaml:"desired_engines" mapstructure:"desired_engines"`
	// ConditionPriority is loaded and validated but nothing ranks by it yet.
	ConditionPriority []string `yaml:"condition_priority" mapstructure:"condition_priority" validate:"unique"`
}

// NotifyConfig configures the summary email.
type NotifyConfig struct {
	SMTPHost   string   `yaml:"smtp_host" mapstructure:"smtp_host" validate:"required"`
	SMTPPort   int      `yaml:"smtp_port" mapstructure:"smtp_port" validate:"gt=0,lte=65535"`
	Username   string   `yaml:"username" mapstructure:"username"`
	Password   string   `yaml:"password" mapstructure:"password"`
	From       string   `yaml:"from" mapstructure:"from" validate:"omitempty,email"`
	Recipients []string `yaml:"recipients" mapstructure:"recipients" validate:"dive,email"`
	Subject    string   `yaml:"subject" mapstructure:"subject"`
}

// ExportConfig configures the new-listings attachment.
type ExportConfig struct {
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=csv xlsx"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
}

// ReconcileConfig tunes change detection.
type ReconcileConfig struct {
	// RetainFailedSources carries a failed source's previous listings forward
	// instead of reporting them as removed.
	RetainFailedSources bool `yaml:"retain_failed_sources" mapstructure:"retain_failed_sources"`
}

// NotionConfig enables publishing new listings to a Notion database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	ListingsDB string `yaml:"listings_db" mapstructure:"listings_db" validate:"required_with=Token"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureStreak     int    `yaml:"failure_streak" mapstructure:"failure_streak" validate:"gte=1"`
	StaleAfterHours   int    `yaml:"stale_after_hours" mapstructure:"stale_after_hours" validate:"gt=0"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gt=0"`
}

// ServerConfig configures the liveness server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// DefaultValidEngines are the engine models accepted from part-number searches.
var DefaultValidEngines = []string{
	"CFM56-3B1", "CFM56-3B2", "CFM56-3C1", "CFM56-5A1", "CFM56-5A3",
	"CFM56-5B1", "CFM56-5B3", "CFM56-5B4", "CFM56-5B5", "CFM56-5B6",
	"CFM56-5B7", "CFM56-7B20", "CFM56-7B22", "CFM56-7B24", "CFM56-7B26",
	"CFM56-7B27", "RB211-535E4", "PW2037", "PW2040", "CF6-50",
	"CF6-80A", "CF6-80C2", "CF6-80E1",
}

// DefaultDesiredEngines are the model prefixes accepted from feed sources.
var DefaultDesiredEngines = []string{
	"CFM56-7B20", "CFM56-7B22", "CFM56-7B24", "CFM56-7B26", "CFM56-7B27",
	"CFM56-7B/20", "CFM56-7B/22", "CFM56-7B/24", "CFM56-7B/26", "CFM56-7B/27",
	"CFM567B",
	"CFM56-5B1", "CFM56-5B2", "CFM56-5B3", "CFM56-5B4", "CFM56-5B5", "CFM56-5B6", "CFM56-5B7",
	"CFM56-5B/1", "CFM56-5B/2", "CFM56-5B/3", "CFM56-5B/4", "CFM56-5B/5", "CFM56-5B/6", "CFM56-5B/7",
	"CFM565B",
	"CF6-80C2B1", "CF6-80C2B2", "CF6-80C2B3", "CF6-80C2B4", "CF6-80C2B5", "CF6-80C2B6",
	"CF6-80C2B1F", "CF6-80C2B2F", "CF6-80C2B3F", "CF6-80C2B4F", "CF6-80C2B5F", "CF6-80C2B6F",
	"CF680C2B", "CF680C2",
}

// DefaultConditionPriority orders condition codes best-first.
var DefaultConditionPriority = []string{"NS", "NE", "OH", "SV", "AR", "RP", "Mid-Life"}

// Load reads configuration from file and environment. When path is empty,
// config.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ENGINEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "engine_data_storage.json")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("schedule.run_times", []string{"04:00", "18:50"})
	v.SetDefault("schedule.timezone", "Africa/Khartoum")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; engine-watch/1.0)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.source_timeout_secs", 600)
	v.SetDefault("fetch.requests_per_second", 2)
	v.SetDefault("sources.enabled", []string{"aeroconnect", "locatory", "myairtrade"})
	v.SetDefault("sources.aeroconnect_url", "https://www.aeroconnect.com/listings-for-sale-or-lease/engines/cfm56-7b/")
	v.SetDefault("sources.locatory_url", "https://www.locatory.com/search/get-result?pn=cfm56&utm_id=&utm_source=")
	v.SetDefault("sources.myairtrade_url", "https://www.myairtrade.com/available/CFM56-7")
	v.SetDefault("filters.valid_engines", DefaultValidEngines)
	v.SetDefault("filters.desired_engines", DefaultDesiredEngines)
	v.SetDefault("filters.condition_priority", DefaultConditionPriority)
	v.SetDefault("notify.smtp_host", "smtp.gmail.com")
	v.SetDefault("notify.smtp_port", 465)
	v.SetDefault("notify.subject", "Engine Scrape Results")
	v.SetDefault("export.format", "csv")
	v.SetDefault("export.dir", os.TempDir())
	v.SetDefault("reconcile.retain_failed_sources", false)
	v.SetDefault("monitoring.failure_streak", 3)
	v.SetDefault("monitoring.stale_after_hours", 26)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional unless given explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints and returns the first violations in a
// single error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return eris.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// Location returns the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Schedule.Timezone)
	}
	return loc, nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Notify.Password = mask(c.Notify.Password)
	c.Notion.Token = mask(c.Notion.Token)
	c.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
