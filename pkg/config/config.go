// Package config loads kharcha configuration from defaults, an optional YAML
// file and KHARCHA_-prefixed environment variables, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/classifier"
)

// EnvPrefix prefixes every environment variable. A double underscore nests,
// so KHARCHA_SYNC__STUCK_TIMEOUT sets sync.stuck_timeout.
const EnvPrefix = "KHARCHA_"

// FileEnv names the environment variable holding an optional YAML config path.
const FileEnv = "KHARCHA_CONFIG"

// ClientSecretFile is the default path to the Google OAuth credentials JSON file.
const ClientSecretFile = "data/client_secret.json"

// Config is the complete application configuration.
type Config struct {
	Postgres   PostgresConfig   `koanf:"postgres"`
	Redis      RedisConfig      `koanf:"redis"`
	AMQP       AMQPConfig       `koanf:"amqp"`
	HTTP       HTTPConfig       `koanf:"http"`
	Sync       SyncConfig       `koanf:"sync"`
	Classifier classifier.Table `koanf:"classifier"`
	Extractor  ExtractorConfig  `koanf:"extractor"`
	Ledger     PluginConfig     `koanf:"ledger"`
	Mailbox    MailboxConfig    `koanf:"mailbox"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Database    string `koanf:"database"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	SSLMode     string `koanf:"sslmode"`
	MaxPoolSize int    `koanf:"max_pool_size"`
}

// DSN renders the keyword/value connection string pgx understands.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig configures the processed-message cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

// AMQPConfig configures the cross-process sync queue. An empty URL means
// syncs run on the in-process worker pool.
type AMQPConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
	Queue    string `koanf:"queue"`
}

// HTTPConfig configures the control surface.
type HTTPConfig struct {
	Addr      string `koanf:"addr"`
	JWTSecret string `koanf:"jwt_secret"`
}

// SyncConfig tunes the sync coordinator and its watchdog.
type SyncConfig struct {
	StuckTimeout     time.Duration `koanf:"stuck_timeout"`
	WatchdogInterval time.Duration `koanf:"watchdog_interval"`
	BatchSize        int           `koanf:"batch_size"`
	MaxMessages      int           `koanf:"max_messages"`
	Workers          int           `koanf:"workers"`
	Backoff          BackoffConfig `koanf:"backoff"`
}

// BackoffConfig bounds retries of transient mailbox errors.
type BackoffConfig struct {
	Attempts uint          `koanf:"attempts"`
	Delay    time.Duration `koanf:"delay"`
	MaxDelay time.Duration `koanf:"max_delay"`
}

// ExtractorConfig tunes the transaction extractor.
type ExtractorConfig struct {
	MaxAmounts      int    `koanf:"max_amounts"`
	MaxMerchants    int    `koanf:"max_merchants"`
	DefaultCurrency string `koanf:"default_currency"`
}

// PluginConfig selects a plugin by name and passes it a JSON config document.
type PluginConfig struct {
	Plugin string `koanf:"plugin"`
	Config string `koanf:"config"`
}

// RawConfig returns Config as JSON, defaulting to an empty object.
func (p PluginConfig) RawConfig() json.RawMessage {
	if strings.TrimSpace(p.Config) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(p.Config)
}

// MailboxConfig selects the mailbox connector and where its credentials live.
type MailboxConfig struct {
	PluginConfig     `koanf:",squash"`
	ClientSecretFile string `koanf:"client_secret_file"`
	TokenDir         string `koanf:"token_dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:        "localhost",
			Port:        5432,
			Database:    "kharcha",
			User:        "kharcha",
			SSLMode:     "disable",
			MaxPoolSize: 10,
		},
		Redis: RedisConfig{TTL: 7 * 24 * time.Hour},
		AMQP: AMQPConfig{
			Exchange: "kharcha",
			Queue:    "kharcha.sync",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Sync: SyncConfig{
			StuckTimeout:     30 * time.Minute,
			WatchdogInterval: 5 * time.Minute,
			BatchSize:        50,
			MaxMessages:      200,
			Workers:          4,
			Backoff: BackoffConfig{
				Attempts: 5,
				Delay:    500 * time.Millisecond,
				MaxDelay: 30 * time.Second,
			},
		},
		Classifier: classifier.DefaultTable(),
		Extractor: ExtractorConfig{
			MaxAmounts:      5,
			MaxMerchants:    3,
			DefaultCurrency: "NPR",
		},
		Ledger: PluginConfig{Plugin: "postgres"},
		Mailbox: MailboxConfig{
			PluginConfig:     PluginConfig{Plugin: "gmail"},
			ClientSecretFile: ClientSecretFile,
			TokenDir:         "data/tokens",
		},
	}
}

// Load reads a .env file if present, then layers the YAML file named by
// KHARCHA_CONFIG and the environment over Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return LoadFrom(os.Getenv(FileEnv))
}

// LoadFrom is Load without the .env step. An empty path skips the YAML file.
func LoadFrom(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if k.Exists("classifier.signals") {
		cfg.Classifier.Signals = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == strings.TrimPrefix(FileEnv, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate reports every problem with the configuration in one error.
func (c *Config) Validate() error {
	var problems []string

	if c.Postgres.Host == "" {
		problems = append(problems, "postgres host cannot be empty")
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid postgres port %d: must be between 1 and 65535", c.Postgres.Port))
	}
	if c.Postgres.MaxPoolSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid postgres max_pool_size %d: must be at least 1", c.Postgres.MaxPoolSize))
	}

	if c.AMQP.URL != "" {
		if u, err := url.Parse(c.AMQP.URL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQP.Exchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQP.Queue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		problems = append(problems, "redis ttl must be positive when redis is enabled")
	}

	if c.Sync.StuckTimeout < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid sync stuck_timeout %v: must be at least 1 minute", c.Sync.StuckTimeout))
	}
	if c.Sync.WatchdogInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid sync watchdog_interval %v: must be at least 1 second", c.Sync.WatchdogInterval))
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 500 {
		problems = append(problems, fmt.Sprintf("invalid sync batch_size %d: must be between 1 and 500", c.Sync.BatchSize))
	}
	if c.Sync.MaxMessages < c.Sync.BatchSize {
		problems = append(problems, fmt.Sprintf("invalid sync max_messages %d: must be at least batch_size", c.Sync.MaxMessages))
	}
	if c.Sync.Workers < 1 {
		problems = append(problems, fmt.Sprintf("invalid sync workers %d: must be at least 1", c.Sync.Workers))
	}
	if c.Sync.Backoff.Attempts < 1 {
		problems = append(problems, "sync backoff attempts must be at least 1")
	}

	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("invalid classifier threshold %v: must be in (0, 1]", c.Classifier.Threshold))
	}
	if c.Classifier.VetoThreshold < 1 {
		problems = append(problems, fmt.Sprintf("invalid classifier veto_threshold %d: must be at least 1", c.Classifier.VetoThreshold))
	}
	if c.Extractor.MaxAmounts < 1 {
		problems = append(problems, fmt.Sprintf("invalid extractor max_amounts %d: must be at least 1", c.Extractor.MaxAmounts))
	}

	if c.Ledger.Plugin == "" {
		problems = append(problems, "ledger plugin cannot be empty")
	}
	if c.Mailbox.Plugin == "" {
		problems = append(problems, "mailbox plugin cannot be empty")
	}
	if !validJSON(c.Ledger.Config) {
		problems = append(problems, "ledger config is not valid JSON")
	}
	if !validJSON(c.Mailbox.Config) {
		problems = append(problems, "mailbox config is not valid JSON")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func validJSON(raw string) bool {
	return strings.TrimSpace(raw) == "" || json.Valid([]byte(raw))
}
