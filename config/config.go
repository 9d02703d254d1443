package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	OpenF1   OpenF1Config   `yaml:"openf1"`
	Ingest   IngestConfig   `yaml:"ingest"`
	PitWall  PitWallConfig  `yaml:"pitwall"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

// DSN builds a pgx connection string. SSL defaults to disabled.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

// Kafka and Redis are optional: an empty host disables them.
type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	IngestCompletedTopicName string `yaml:"ingest_completed_topic_name"`
}

func (k KafkaConfig) Enabled() bool { return k.Host != "" }

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

type OpenF1Config struct {
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
	TokenURL string `yaml:"token_url" validate:"omitempty,url"`
	UseToken bool   `yaml:"use_token"`
	Username string `yaml:"username" validate:"required_if=UseToken true"`
	Password string `yaml:"password" validate:"required_if=UseToken true"`

	TimeoutSeconds     int `yaml:"timeout_seconds" validate:"gte=0"`
	RequestDelayMillis int `yaml:"request_delay_ms" validate:"gte=0"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" validate:"gte=0"`
}

type IngestConfig struct {
	Workers                int    `yaml:"workers" validate:"gte=0"`
	ChunkMinutes           int    `yaml:"chunk_minutes" validate:"gte=0"`
	WindowMarginMinutes    int    `yaml:"window_margin_minutes" validate:"gte=0"`
	QualifyingExtraMinutes int    `yaml:"qualifying_extra_minutes" validate:"gte=0"`
	Timezone               string `yaml:"timezone"`

	RetryMaxAttempts      int `yaml:"retry_max_attempts" validate:"gte=0"`
	RetryBaseDelaySeconds int `yaml:"retry_base_delay_seconds" validate:"gte=0"`
}

type PitWallConfig struct {
	APIHTTPAddr        string `yaml:"api_http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds" validate:"gte=0"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds" validate:"gte=0"`
	WorkerIdleIntervalSeconds int `yaml:"worker_idle_interval_seconds" validate:"gte=0"`
	WorkerLookbackHours       int `yaml:"worker_lookback_hours" validate:"gte=0"`
	WorkerSettleMinutes       int `yaml:"worker_settle_minutes" validate:"gte=0"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// Validate checks the parts of the config every binary needs.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
