package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram transport settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// Commands maps slash commands to scenario ids started on receipt.
	Commands map[string]string `yaml:"commands"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level   string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format  string `yaml:"format" envconfig:"LOG_FORMAT"`
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
	Dir     string `yaml:"dir"`
	File    string `yaml:"file"`
}

// MongoConfig holds MongoDB connection settings, used both for the document
// store collaborator and the mongo session backend.
type MongoConfig struct {
	URI      string `yaml:"uri" envconfig:"MONGO_URI"`
	Database string `yaml:"database" envconfig:"MONGO_DATABASE"`
}

// PostgresConfig holds SQL session backend settings.
type PostgresConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// RedisConfig holds Redis session backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// Session store backend selectors.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// StorageConfig selects and configures the session store backend.
type StorageConfig struct {
	Backend  string         `yaml:"backend" envconfig:"STORAGE_BACKEND"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Timeout-expiry and unmatched-input policies.
const (
	TimeoutPolicyTerminate = "terminate"
	TimeoutPolicyEscalate  = "escalate"

	UnmatchedPolicyIgnore = "ignore"
	UnmatchedPolicyError  = "error"
)

// EngineConfig controls scenario execution behaviour.
type EngineConfig struct {
	// ScenariosDir points at the directory of scenario definition files.
	ScenariosDir string `yaml:"scenarios_dir" envconfig:"SCENARIOS_DIR"`
	// DefaultScenario is started for a first inbound event with no session.
	DefaultScenario string `yaml:"default_scenario" envconfig:"DEFAULT_SCENARIO"`
	// StepBudget caps chained step executions within one inbound-event pass.
	StepBudget int `yaml:"step_budget" envconfig:"ENGINE_STEP_BUDGET"`
	// SendTimeout bounds a single channel or document store call so the
	// per-session lock is never held across an unbounded external call.
	SendTimeout time.Duration `yaml:"send_timeout" envconfig:"ENGINE_SEND_TIMEOUT"`
	// SweepInterval is the period of the suspended-session timeout sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"ENGINE_SWEEP_INTERVAL"`
	// TimeoutPolicy applies when a wait deadline passes and the scenario
	// defines no timeout step: terminate or escalate.
	TimeoutPolicy string `yaml:"timeout_policy" envconfig:"ENGINE_TIMEOUT_POLICY"`
	// UnmatchedInput selects what happens with input not matching a wait
	// spec: ignore or error.
	UnmatchedInput string `yaml:"unmatched_input" envconfig:"ENGINE_UNMATCHED_INPUT"`
	// UnmatchedReply, when set, is sent back on ignored unmatched input.
	UnmatchedReply string `yaml:"unmatched_reply"`
}

// AdminConfig configures the administration HTTP listener.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ADMIN_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"ADMIN_LISTEN"`
}

// Config aggregates the configuration of the whole service.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Storage  StorageConfig  `yaml:"storage"`
	Engine   EngineConfig   `yaml:"engine"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if backend == "" {
		backend = BackendMemory
	}
	switch backend {
	case BackendMemory:
	case BackendMongo:
		if strings.TrimSpace(cfg.Storage.Mongo.URI) == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
		}
		if strings.TrimSpace(cfg.Storage.Mongo.Database) == "" {
			cfg.Storage.Mongo.Database = "flowbot"
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.Storage.Postgres.Host) == "" {
			return fmt.Errorf("storage.postgres.host is required for the postgres backend")
		}
		if cfg.Storage.Postgres.MaxConnections <= 0 {
			cfg.Storage.Postgres.MaxConnections = 10
		}
		if strings.TrimSpace(cfg.Storage.Postgres.SSLMode) == "" {
			cfg.Storage.Postgres.SSLMode = "disable"
		}
	case BackendRedis:
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q; allowed: memory, mongo, postgres, redis", cfg.Storage.Backend)
	}
	cfg.Storage.Backend = backend

	if strings.TrimSpace(cfg.Engine.ScenariosDir) == "" {
		cfg.Engine.ScenariosDir = "scenarios"
	}
	if strings.TrimSpace(cfg.Engine.DefaultScenario) == "" {
		return fmt.Errorf("engine.default_scenario is required")
	}
	if cfg.Engine.StepBudget <= 0 {
		cfg.Engine.StepBudget = 256
	}
	if cfg.Engine.SendTimeout <= 0 {
		cfg.Engine.SendTimeout = 10 * time.Second
	}
	if cfg.Engine.SweepInterval <= 0 {
		cfg.Engine.SweepInterval = 30 * time.Second
	}

	tp := strings.ToLower(strings.TrimSpace(cfg.Engine.TimeoutPolicy))
	if tp == "" {
		tp = TimeoutPolicyTerminate
	}
	if tp != TimeoutPolicyTerminate && tp != TimeoutPolicyEscalate {
		return fmt.Errorf("invalid engine.timeout_policy %q; allowed: terminate, escalate", cfg.Engine.TimeoutPolicy)
	}
	cfg.Engine.TimeoutPolicy = tp

	up := strings.ToLower(strings.TrimSpace(cfg.Engine.UnmatchedInput))
	if up == "" {
		up = UnmatchedPolicyIgnore
	}
	if up != UnmatchedPolicyIgnore && up != UnmatchedPolicyError {
		return fmt.Errorf("invalid engine.unmatched_input %q; allowed: ignore, error", cfg.Engine.UnmatchedInput)
	}
	cfg.Engine.UnmatchedInput = up

	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Listen) == "" {
		cfg.Admin.Listen = ":8080"
	}

	for cmd := range cfg.Telegram.Commands {
		if !strings.HasPrefix(cmd, "/") {
			return fmt.Errorf("telegram.commands key %q must start with '/'", cmd)
		}
	}

	return nil
}
