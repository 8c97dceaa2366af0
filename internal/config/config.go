package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig holds RabbitMQ settings.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VaultConfig holds the secret-vault master key material.
// MasterSecret never appears in log output.
type VaultConfig struct {
	MasterSecret string `yaml:"master_secret"`
	Salt         string `yaml:"salt"`
}

// SMTPConfig holds the outbound relay used by the email delivery channel.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// QueueConfig tunes the durable work queue.
type QueueConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseBackoff      time.Duration `yaml:"base_backoff"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	DispatchBatch    int           `yaml:"dispatch_batch"`
	Concurrency      int           `yaml:"concurrency"`
	Retention        time.Duration `yaml:"retention"`
}

// UnmarshalYAML accepts Go duration strings ("30s", "5m") for the backoff
// and interval fields. Unset fields keep their prior (default) values.
func (q *QueueConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts      int    `yaml:"max_attempts"`
		BaseBackoff      string `yaml:"base_backoff"`
		DispatchInterval string `yaml:"dispatch_interval"`
		DispatchBatch    int    `yaml:"dispatch_batch"`
		Concurrency      int    `yaml:"concurrency"`
		Retention        string `yaml:"retention"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxAttempts > 0 {
		q.MaxAttempts = raw.MaxAttempts
	}
	if raw.DispatchBatch > 0 {
		q.DispatchBatch = raw.DispatchBatch
	}
	if raw.Concurrency > 0 {
		q.Concurrency = raw.Concurrency
	}
	for _, d := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.BaseBackoff, &q.BaseBackoff},
		{raw.DispatchInterval, &q.DispatchInterval},
		{raw.Retention, &q.Retention},
	} {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.src, err)
		}
		*d.dst = parsed
	}
	return nil
}

// PipelineConfig tunes extraction and matching.
type PipelineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	FuzzyMinScore       float64 `yaml:"fuzzy_min_score"`
}

// NotifyConfig tunes the notification trigger.
type NotifyConfig struct {
	ScanInterval  time.Duration `yaml:"scan_interval"`
	RetentionDays int           `yaml:"retention_days"`
}

// UnmarshalYAML accepts a Go duration string for the scan interval.
func (n *NotifyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ScanInterval  string `yaml:"scan_interval"`
		RetentionDays int    `yaml:"retention_days"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.RetentionDays > 0 {
		n.RetentionDays = raw.RetentionDays
	}
	if raw.ScanInterval != "" {
		parsed, err := time.ParseDuration(raw.ScanInterval)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw.ScanInterval, err)
		}
		n.ScanInterval = parsed
	}
	return nil
}

// Config is the root configuration shared by all binaries.
type Config struct {
	DB       DBConfig       `yaml:"db"`
	MQ       MQConfig       `yaml:"mq"`
	Redis    RedisConfig    `yaml:"redis"`
	Vault    VaultConfig    `yaml:"vault"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// Defaults applied when the YAML leaves a field unset.
func defaults() Config {
	return Config{
		Queue: QueueConfig{
			MaxAttempts:      5,
			BaseBackoff:      30 * time.Second,
			DispatchInterval: time.Second,
			DispatchBatch:    100,
			Concurrency:      4,
			Retention:        7 * 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 0.7,
			FuzzyMinScore:       0.6,
		},
		Notify: NotifyConfig{
			ScanInterval:  time.Hour,
			RetentionDays: 30,
		},
	}
}

// Load reads config/base.yaml (or $CONFIG_FILE) and applies environment
// variable overrides. Environment always wins over file values.
func Load() (*Config, error) {
	cfg := defaults()

	path := GetEnv("CONFIG_FILE", filepath.Join("config", "base.yaml"))
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// GetEnv returns the environment value for key, or fallback when unset.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func overrideFromEnv(cfg *Config) {
	setStr(&cfg.DB.Host, "DB_HOST")
	setInt(&cfg.DB.Port, "DB_PORT")
	setStr(&cfg.DB.User, "DB_USER")
	setStr(&cfg.DB.Password, "DB_PASSWORD")
	setStr(&cfg.DB.Name, "DB_NAME")

	setStr(&cfg.MQ.URL, "MQ_URL")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setStr(&cfg.Vault.MasterSecret, "VAULT_MASTER_SECRET")
	setStr(&cfg.Vault.Salt, "VAULT_SALT")

	setStr(&cfg.SMTP.Host, "SMTP_HOST")
	setInt(&cfg.SMTP.Port, "SMTP_PORT")
	setStr(&cfg.SMTP.Username, "SMTP_USERNAME")
	setStr(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setStr(&cfg.SMTP.From, "SMTP_FROM")
	setStr(&cfg.SMTP.To, "SMTP_TO")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
