package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration tree, loaded from YAML with
// environment-variable overrides, grounded on apicall's own
// config.Config layout and env-override convention.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Telephony  TelephonyConfig  `yaml:"telephony"`
	Agent      AgentConfig      `yaml:"agent"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Log        LogConfig        `yaml:"log"`
}

type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

func (a APIConfig) Address() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// TelephonyConfig carries the Telephony Adapter's carrier connection
// details and the media-stream / status-callback URLs passed to Dial.
type TelephonyConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	Username            string `yaml:"username"`
	Secret              string `yaml:"secret"`
	ReconnectInterval   int    `yaml:"reconnect_interval"`
	MediaStreamURL      string `yaml:"media_stream_url"`
	StatusCallbackURL   string `yaml:"status_callback_url"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	HangupTimeoutSeconds int   `yaml:"hangup_timeout_seconds"`
}

func (t TelephonyConfig) Address() string { return fmt.Sprintf("%s:%d", t.Host, t.Port) }

func (t TelephonyConfig) DialTimeout() time.Duration {
	if t.DialTimeoutSeconds == 0 {
		return 15 * time.Second
	}
	return time.Duration(t.DialTimeoutSeconds) * time.Second
}

func (t TelephonyConfig) HangupTimeout() time.Duration {
	if t.HangupTimeoutSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(t.HangupTimeoutSeconds) * time.Second
}

// AgentConfig carries the conversational-AI provider's base URL, API key
// and webhook signing secret.
type AgentConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	WebhookSecret    string `yaml:"webhook_secret"`
	SessionOpenSeconds int  `yaml:"session_open_seconds"`
}

func (a AgentConfig) SessionOpenTimeout() time.Duration {
	if a.SessionOpenSeconds == 0 {
		return 5 * time.Second
	}
	return time.Duration(a.SessionOpenSeconds) * time.Second
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MigrationsPath  string `yaml:"migrations_path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

// SchedulerConfig tunes defaults applied when a Campaign doesn't specify
// its own settings, and the sweeper's poll interval.
type SchedulerConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_millis"`
}

func (s SchedulerConfig) PollInterval() time.Duration {
	if s.PollIntervalMillis == 0 {
		return time.Second
	}
	return time.Duration(s.PollIntervalMillis) * time.Millisecond
}

type WebhookConfig struct {
	SignatureHeader string `yaml:"signature_header"`
}

type RecordingsConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration from path and applies environment
// overrides, mirroring apicall's Load/overrideWithEnv split.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config yaml: %w", err)
	}

	overrideWithEnv(&cfg)
	return &cfg, nil
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("VOXCAMPAIGN_TELEPHONY_USERNAME"); v != "" {
		cfg.Telephony.Username = v
	}
	if v := os.Getenv("VOXCAMPAIGN_TELEPHONY_SECRET"); v != "" {
		cfg.Telephony.Secret = v
	}
	if v := os.Getenv("VOXCAMPAIGN_AGENT_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("VOXCAMPAIGN_AGENT_WEBHOOK_SECRET"); v != "" {
		cfg.Agent.WebhookSecret = v
	}
	if v := os.Getenv("VOXCAMPAIGN_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("VOXCAMPAIGN_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VOXCAMPAIGN_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VOXCAMPAIGN_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
}
