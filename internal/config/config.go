package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig
	Dataset  DatasetConfig
	Analysis AnalysisConfig
	QA       QAConfig
	Logger   LoggerConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatasetConfig struct {
	// PreloadFile is analysed at start-up when set.
	PreloadFile    string
	MaxUploadBytes int64
	MaxReports     int
	LoadTimeout    time.Duration
}

// AnalysisConfig can be overlaid from the YAML file named by ANALYSIS_CONFIG.
type AnalysisConfig struct {
	RequireRegion   bool     `yaml:"require_region"`
	ReservedColumns []string `yaml:"reserved_columns"`
	Sheet           string   `yaml:"sheet"`
	ChurnMethod     string   `yaml:"churn_method"`
	MoversLimit     int      `yaml:"movers_limit"`
}

type QAConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxContextTokens int
	TopK             int
	Timeout          time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

type SecurityConfig struct {
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
	AllowedOrigins  []string
	TrustedProxies  []string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; variables already set in
// the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8084),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Dataset: DatasetConfig{
			PreloadFile:    getEnvString("DATASET_FILE", ""),
			MaxUploadBytes: int64(getEnvInt("DATASET_MAX_UPLOAD_BYTES", 20<<20)),
			MaxReports:     getEnvInt("DATASET_MAX_REPORTS", 16),
			LoadTimeout:    getEnvDuration("DATASET_LOAD_TIMEOUT", 30*time.Second),
		},
		Analysis: AnalysisConfig{
			RequireRegion:   getEnvBool("ANALYSIS_REQUIRE_REGION", false),
			ReservedColumns: getEnvStringSlice("ANALYSIS_RESERVED_COLUMNS", nil),
			Sheet:           getEnvString("ANALYSIS_SHEET", ""),
			ChurnMethod:     getEnvString("ANALYSIS_CHURN_METHOD", "set-difference"),
			MoversLimit:     getEnvInt("ANALYSIS_MOVERS_LIMIT", 5),
		},
		QA: QAConfig{
			APIKey:           getEnvString("QA_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL:          getEnvString("QA_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:            getEnvString("QA_MODEL", "openai/gpt-3.5-turbo"),
			Temperature:      getEnvFloat("QA_TEMPERATURE", 0),
			MaxContextTokens: getEnvInt("QA_MAX_CONTEXT_TOKENS", 2000),
			TopK:             getEnvInt("QA_TOP_K", 8),
			Timeout:          getEnvDuration("QA_TIMEOUT", 45*time.Second),
		},
		Logger: LoggerConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			EnableRateLimit: getEnvBool("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitRPS:    getEnvInt("SECURITY_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvInt("SECURITY_RATE_LIMIT_BURST", 10),
			AllowedOrigins:  getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", []string{"http://localhost:8084"}),
			TrustedProxies:  getEnvStringSlice("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}),
		},
	}

	if path := os.Getenv("ANALYSIS_CONFIG"); path != "" {
		if err := cfg.Analysis.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overlay replaces the fields present in the YAML file at path.
func (a *AnalysisConfig) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read analysis config: %w", err)
	}
	if err := yaml.Unmarshal(data, a); err != nil {
		return fmt.Errorf("parse analysis config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Dataset.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	if c.Dataset.MaxReports <= 0 {
		return fmt.Errorf("max reports must be positive")
	}

	validChurnMethods := []string{"set-difference", "presence-span"}
	if !slices.Contains(validChurnMethods, c.Analysis.ChurnMethod) {
		return fmt.Errorf("invalid churn method %q, must be one of: %s", c.Analysis.ChurnMethod, strings.Join(validChurnMethods, ", "))
	}

	if c.Analysis.MoversLimit <= 0 {
		return fmt.Errorf("movers limit must be positive")
	}

	if c.QA.MaxContextTokens <= 0 {
		return fmt.Errorf("QA max context tokens must be positive")
	}

	if c.QA.TopK <= 0 {
		return fmt.Errorf("QA top-k must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogValue keeps credentials out of the start-up log.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Address()),
		slog.String("preload_file", c.Dataset.PreloadFile),
		slog.Int64("max_upload_bytes", c.Dataset.MaxUploadBytes),
		slog.Int("max_reports", c.Dataset.MaxReports),
		slog.Bool("require_region", c.Analysis.RequireRegion),
		slog.String("churn_method", c.Analysis.ChurnMethod),
		slog.String("qa_model", c.QA.Model),
		slog.Bool("qa_enabled", c.QA.APIKey != ""),
		slog.String("log_level", c.Logger.Level),
		slog.Bool("rate_limit", c.Security.EnableRateLimit),
	)
}
