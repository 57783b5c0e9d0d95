package infrastructure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"bulletin-verifier/reconcile"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Workers     WorkersConfig     `yaml:"workers"`
	Reconcile   reconcile.Config  `yaml:"reconcile"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// CandidaturesDir holds one sub-folder per candidate.
	CandidaturesDir string `yaml:"candidatures_dir"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type RecognitionConfig struct {
	Provider       string        `yaml:"provider"`
	GeminiAPIKey   string        `yaml:"gemini_api_key"`
	GeminiModels   []string      `yaml:"gemini_models"`
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIModel    string        `yaml:"openai_model"`
	VertexProject  string        `yaml:"vertex_project"`
	VertexLocation string        `yaml:"vertex_location"`
	VertexModel    string        `yaml:"vertex_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    uint          `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

type WorkersConfig struct {
	Parallelism int `yaml:"parallelism"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "bulletin-verifier", Env: "development"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage:  StorageConfig{CandidaturesDir: "forms/candidatures"},
		RabbitMQ: RabbitMQConfig{Queue: "verification_queue"},
		Redis:    RedisConfig{LockTTL: 10 * time.Minute},
		Archive:  ArchiveConfig{Prefix: "verifications", Region: "us-east-1"},
		Recognition: RecognitionConfig{
			Provider: "gemini",
			GeminiModels: []string{
				"gemini-2.0-flash-001",
				"gemini-2.0-flash",
				"gemini-2.5-flash",
				"gemini-flash-latest",
			},
			OpenAIModel:    "gpt-4o",
			VertexLocation: "europe-west1",
			VertexModel:    "gemini-2.0-flash-001",
			Timeout:        2 * time.Minute,
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
		},
		Workers:   WorkersConfig{Parallelism: 4},
		Reconcile: reconcile.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig reads .env, then the YAML file named by CONFIG_PATH (default
// config.yaml, optional), then environment overrides.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Reconcile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconcile section: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Archive.Bucket, "S3_BUCKET")
	setString(&c.Archive.Endpoint, "S3_ENDPOINT")
	setString(&c.Archive.AccessKey, "S3_ACCESS_KEY")
	setString(&c.Archive.SecretKey, "S3_SECRET_KEY")
	setString(&c.Recognition.Provider, "RECOGNITION_PROVIDER")
	setString(&c.Recognition.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Recognition.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Recognition.VertexProject, "VERTEX_PROJECT")
	setString(&c.Storage.CandidaturesDir, "CANDIDATURES_DIR")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}
