// Package config handles loading and validating the parlance configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for the parlance daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Languages  LanguagesConfig  `mapstructure:"languages"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	Content    ContentConfig    `mapstructure:"content"`
	Prefs      PrefsConfig      `mapstructure:"prefs"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport (health and reflection).
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket API.
type HTTPConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LanguagesConfig names the two languages of the application.
type LanguagesConfig struct {
	Primary   LanguageConfig `mapstructure:"primary"`
	Secondary LanguageConfig `mapstructure:"secondary"`
}

// LanguageConfig pairs a language code with its full synthesis tag.
type LanguageConfig struct {
	Code string `mapstructure:"code"` // ISO-639-1 (e.g., "eu")
	Tag  string `mapstructure:"tag"`  // BCP 47 (e.g., "eu-ES")
}

// SpeechConfig configures the speech backends.
type SpeechConfig struct {
	Local   LocalConfig   `mapstructure:"local"`
	Network NetworkConfig `mapstructure:"network"`
	Player  PlayerConfig  `mapstructure:"player"`
}

// LocalConfig configures the on-device synthesizer (espeak-ng).
type LocalConfig struct {
	Binary         string `mapstructure:"binary"`
	WordsPerMinute int    `mapstructure:"words_per_minute"` // speed at rate 1.0
}

// NetworkConfig selects and configures the network synthesis provider used
// for the secondary language.
type NetworkConfig struct {
	Provider          string          `mapstructure:"provider"` // "translate", "piper" or "none"
	MaxChunkChars     int             `mapstructure:"max_chunk_chars"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second"` // 0 = unlimited
	Translate         TranslateConfig `mapstructure:"translate"`
	Piper             PiperConfig     `mapstructure:"piper"`
}

// TranslateConfig configures the translate TTS endpoint.
type TranslateConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps ISO-639-1 codes to
// individual Wyoming TCP endpoints; Endpoint is then the fallback.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`  // Default Wyoming TCP endpoint (host:port)
	Endpoints map[string]string `mapstructure:"endpoints"` // ISO-639-1 language code -> Wyoming TCP endpoint
	Voices    map[string]string `mapstructure:"voices"`    // ISO-639-1 language code -> Piper voice model name
}

// PlayerConfig configures the audio sink for network clips.
type PlayerConfig struct {
	Binary string `mapstructure:"binary"` // ffplay
}

// ContentConfig locates the dialogue and phrase catalog.
type ContentConfig struct {
	Path string `mapstructure:"path"`
}

// PrefsConfig selects where speaker voice settings are persisted.
type PrefsConfig struct {
	Backend  string `mapstructure:"backend"` // "memory" or "redis"
	RedisURL string `mapstructure:"redis_url"`
	Key      string `mapstructure:"key"` // redis hash holding the settings
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TelemetryConfig toggles the metrics pipeline.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./parlance.yaml, ./configs/parlance.yaml, /etc/parlance/parlance.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.cors_origins", []string{"*"})
	v.SetDefault("languages.primary.code", "en")
	v.SetDefault("languages.primary.tag", "en-US")
	v.SetDefault("languages.secondary.code", "eu")
	v.SetDefault("languages.secondary.tag", "eu-ES")
	v.SetDefault("speech.local.binary", "espeak-ng")
	v.SetDefault("speech.local.words_per_minute", 175)
	v.SetDefault("speech.network.provider", "translate")
	v.SetDefault("speech.network.max_chunk_chars", 200)
	v.SetDefault("speech.network.requests_per_second", 0)
	v.SetDefault("speech.network.translate.endpoint", "https://translate.google.com/translate_tts")
	v.SetDefault("speech.network.piper.endpoint", "localhost:10200")
	v.SetDefault("speech.player.binary", "ffplay")
	v.SetDefault("content.path", "./content/catalog.yaml")
	v.SetDefault("prefs.backend", "memory")
	v.SetDefault("prefs.redis_url", "redis://localhost:6379/0")
	v.SetDefault("prefs.key", "parlance:speaker_settings")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("telemetry.enabled", true)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("parlance")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/parlance")
	}

	// Environment variables: PARLANCE_SERVER_HEALTH_PORT, PARLANCE_SPEECH_NETWORK_PROVIDER, etc.
	v.SetEnvPrefix("PARLANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${REDIS_URL}")
	cfg.Prefs.RedisURL = resolveEnvRef(cfg.Prefs.RedisURL)

	return &cfg, nil
}

// Validate reports the first inconsistency in cfg.
func (c *Config) Validate() error {
	p, s := c.Languages.Primary, c.Languages.Secondary
	if p.Code == "" || s.Code == "" {
		return fmt.Errorf("languages: both primary and secondary code are required")
	}
	if p.Tag == "" || s.Tag == "" {
		return fmt.Errorf("languages: both primary and secondary tag are required")
	}
	if strings.EqualFold(p.Code, s.Code) {
		return fmt.Errorf("languages: primary and secondary code are both %q", p.Code)
	}
	for _, l := range []LanguageConfig{p, s} {
		if !strings.HasPrefix(strings.ToLower(l.Tag), strings.ToLower(l.Code)) {
			return fmt.Errorf("languages: tag %q does not start with code %q", l.Tag, l.Code)
		}
	}

	switch c.Speech.Network.Provider {
	case "translate", "piper", "none":
	default:
		return fmt.Errorf("speech.network.provider: unknown provider %q", c.Speech.Network.Provider)
	}
	if c.Speech.Network.MaxChunkChars <= 0 {
		return fmt.Errorf("speech.network.max_chunk_chars must be positive, got %d", c.Speech.Network.MaxChunkChars)
	}
	if c.Speech.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("speech.network.requests_per_second must not be negative")
	}
	if c.Speech.Local.WordsPerMinute <= 0 {
		return fmt.Errorf("speech.local.words_per_minute must be positive, got %d", c.Speech.Local.WordsPerMinute)
	}

	switch c.Prefs.Backend {
	case "memory":
	case "redis":
		if c.Prefs.RedisURL == "" {
			return fmt.Errorf("prefs.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("prefs.backend: unknown backend %q", c.Prefs.Backend)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
