package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "NOTEPAD"
	defaultHTTPAddress     = "0.0.0.0:8000"
	defaultNotesDirectory  = "notes"
	defaultTimezone        = "Local"
	defaultDatabasePath    = "notepad.db"
	defaultLogLevel        = "info"
	defaultLogEncoding     = "json"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultGenerationModel = "gpt-4o-mini"
	defaultGenerationLoad  = 10 * time.Second
	defaultGenerationCall  = 5 * time.Second
	defaultGenerationRate  = 2.0
	defaultWatchDebounce   = 200 * time.Millisecond
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	NotesDirectory string
	Location       *time.Location
	DatabasePath   string
	LogLevel       string
	LogEncoding    string
	AllowedOrigins []string
	Generation     GenerationConfig
	WatchEnabled   bool
	WatchDebounce  time.Duration
}

// GenerationConfig captures settings of the text generation capability.
type GenerationConfig struct {
	Enabled           bool
	APIKey            string
	BaseURL           string
	Model             string
	LoadTimeout       time.Duration
	CallTimeout       time.Duration
	RequestsPerSecond float64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AllowEmptyEnv(true)
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("notes.dir", defaultNotesDirectory)
	configViper.SetDefault("notes.timezone", defaultTimezone)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("generation.enabled", false)
	configViper.SetDefault("generation.model", defaultGenerationModel)
	configViper.SetDefault("generation.load_timeout", defaultGenerationLoad)
	configViper.SetDefault("generation.call_timeout", defaultGenerationCall)
	configViper.SetDefault("generation.requests_per_second", defaultGenerationRate)
	configViper.SetDefault("watch.enabled", true)
	configViper.SetDefault("watch.debounce", defaultWatchDebounce)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	location, err := loadLocation(configViper.GetString("notes.timezone"))
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		NotesDirectory: configViper.GetString("notes.dir"),
		Location:       location,
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogEncoding:    configViper.GetString("log.encoding"),
		AllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
		Generation: GenerationConfig{
			Enabled:           configViper.GetBool("generation.enabled"),
			APIKey:            configViper.GetString("generation.api_key"),
			BaseURL:           configViper.GetString("generation.base_url"),
			Model:             configViper.GetString("generation.model"),
			LoadTimeout:       configViper.GetDuration("generation.load_timeout"),
			CallTimeout:       configViper.GetDuration("generation.call_timeout"),
			RequestsPerSecond: configViper.GetFloat64("generation.requests_per_second"),
		},
		WatchEnabled:  configViper.GetBool("watch.enabled"),
		WatchDebounce: configViper.GetDuration("watch.debounce"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.NotesDirectory) == "" {
		return fmt.Errorf("notes.dir is required")
	}
	if c.Generation.Enabled {
		if strings.TrimSpace(c.Generation.APIKey) == "" {
			return fmt.Errorf("generation.api_key is required when generation is enabled")
		}
		if c.Generation.LoadTimeout <= 0 {
			return fmt.Errorf("generation.load_timeout must be positive")
		}
		if c.Generation.CallTimeout <= 0 {
			return fmt.Errorf("generation.call_timeout must be positive")
		}
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, defaultTimezone) {
		return time.Local, nil
	}
	location, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("notes.timezone %q: %w", trimmed, err)
	}
	return location, nil
}

// splitList flattens comma-separated entries, which is how list values
// arrive from environment variables.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
