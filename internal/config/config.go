package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
}

type ServerConfig struct {
	Port       int        `mapstructure:"port"`
	Mode       string     `mapstructure:"mode"`
	AuthSecret string     `mapstructure:"auth_secret"`
	CORS       CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible, or local
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	LocalPath string `mapstructure:"local_path"`
}

type TranscriberConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type AnalyzerConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ScoringModel  string `mapstructure:"scoring_model"`
	CoachingModel string `mapstructure:"coaching_model"`
}

type QueueConfig struct {
	TranscriptionWorkers int           `mapstructure:"transcription_workers"`
	AnalysisWorkers      int           `mapstructure:"analysis_workers"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	AnalysisDelay        time.Duration `mapstructure:"analysis_delay"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	LeaseTimeout         time.Duration `mapstructure:"lease_timeout"`
	ReaperInterval       time.Duration `mapstructure:"reaper_interval"`
	CleanupAge           time.Duration `mapstructure:"cleanup_age"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	SendBuffer        int           `mapstructure:"send_buffer"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/classpulse.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "recordings")
	v.SetDefault("storage.local_path", "./data/recordings")
	v.SetDefault("transcriber.base_url", "https://api.assemblyai.com/v2")
	v.SetDefault("transcriber.poll_interval", 5*time.Second)
	v.SetDefault("transcriber.poll_timeout", 5*time.Minute)
	v.SetDefault("analyzer.base_url", "http://localhost:11434")
	v.SetDefault("analyzer.scoring_model", "ciq-analyzer")
	v.SetDefault("analyzer.coaching_model", "coach")
	v.SetDefault("queue.transcription_workers", 2)
	v.SetDefault("queue.analysis_workers", 1)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_base_delay", 2*time.Second)
	v.SetDefault("queue.retry_max_delay", 30*time.Second)
	v.SetDefault("queue.analysis_delay", time.Second)
	v.SetDefault("queue.poll_interval", 2*time.Second)
	v.SetDefault("queue.lease_timeout", 10*time.Minute)
	v.SetDefault("queue.reaper_interval", time.Minute)
	v.SetDefault("queue.cleanup_age", 7*24*time.Hour)
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.pong_timeout", 75*time.Second)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.send_buffer", 16)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.use_ssl", "STORAGE_USE_SSL")
	v.BindEnv("server.auth_secret", "AUTH_SECRET")
	v.BindEnv("transcriber.api_key", "ASSEMBLYAI_API_KEY")
	v.BindEnv("transcriber.base_url", "ASSEMBLYAI_BASE_URL")
	v.BindEnv("analyzer.base_url", "ANALYZER_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
