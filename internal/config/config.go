package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Identify  IdentifyConfig  `yaml:"identify"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// IdentifyConfig controls the identification policy and plan builder.
type IdentifyConfig struct {
	Dim         int     `yaml:"dim"`
	Threshold   float64 `yaml:"threshold"`
	TopK        int     `yaml:"top_k"`
	WorkerCount int     `yaml:"worker_count"`
	Parallelism int     `yaml:"parallelism"`
}

// EmbeddingConfig describes the ONNX speaker embedding model and the PCM
// windows it consumes.
type EmbeddingConfig struct {
	ModelPath     string  `yaml:"model_path"`
	SampleRate    int     `yaml:"sample_rate"`
	WindowSeconds float64 `yaml:"window_seconds"`
	MinSeconds    float64 `yaml:"min_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Identify.Dim == 0 {
		cfg.Identify.Dim = 512
	}
	if cfg.Identify.Threshold == 0 {
		cfg.Identify.Threshold = 0.45
	}
	if cfg.Identify.TopK == 0 {
		cfg.Identify.TopK = 5
	}
	if cfg.Identify.WorkerCount == 0 {
		cfg.Identify.WorkerCount = 4
	}
	if cfg.Identify.Parallelism == 0 {
		cfg.Identify.Parallelism = 4
	}
	if cfg.Embedding.SampleRate == 0 {
		cfg.Embedding.SampleRate = 16000
	}
	if cfg.Embedding.WindowSeconds == 0 {
		cfg.Embedding.WindowSeconds = 3.0
	}
	if cfg.Embedding.MinSeconds == 0 {
		cfg.Embedding.MinSeconds = 0.5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPEAKERID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPEAKERID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SPEAKERID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SPEAKERID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SPEAKERID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SPEAKERID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SPEAKERID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SPEAKERID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SPEAKERID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SPEAKERID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SPEAKERID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SPEAKERID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SPEAKERID_MODEL_PATH"); v != "" {
		cfg.Embedding.ModelPath = v
	}
	if v := os.Getenv("SPEAKERID_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Identify.Threshold = t
		}
	}
	if v := os.Getenv("SPEAKERID_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Identify.WorkerCount = n
		}
	}
}
