// Package config loads postpilot settings from defaults, a YAML file, a .env
// file, POSTPILOT_* environment variables and bound command line flags, in
// increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/postpilot/pkg/redisstream"
	"github.com/go-go-golems/postpilot/pkg/transport"
)

const EnvPrefix = "POSTPILOT"

type Settings struct {
	AgentID string        `mapstructure:"agent_id" yaml:"agent_id"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Chat    ChatConfig    `mapstructure:"chat" yaml:"chat"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Status  StatusConfig  `mapstructure:"status" yaml:"status"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Mock    MockConfig    `mapstructure:"mock" yaml:"mock"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ChatConfig struct {
	Identity     string          `mapstructure:"identity" yaml:"identity"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	Reconnect    ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// ReconnectConfig is off by default: a dropped chat connection stays down
// until the operator reconnects.
type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

func (r ReconnectConfig) Backoff() transport.BackoffSettings {
	return transport.BackoffSettings{
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		MaxElapsedTime:  r.MaxElapsedTime,
		MaxRetries:      r.MaxRetries,
	}
}

type EventsConfig struct {
	Topic string               `mapstructure:"topic" yaml:"topic"`
	Redis redisstream.Settings `mapstructure:"redis" yaml:"redis"`
}

type StatusConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// GatePublish refuses to publish while the page is not connected.
	GatePublish bool `mapstructure:"gate_publish" yaml:"gate_publish"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

type MockConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent_id", "default-agent")

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.timeout", "2m")

	v.SetDefault("chat.identity", transport.DefaultIdentity)
	v.SetDefault("chat.write_timeout", "10s")
	v.SetDefault("chat.reconnect.enabled", false)
	v.SetDefault("chat.reconnect.initial_interval", "500ms")
	v.SetDefault("chat.reconnect.max_interval", "30s")
	v.SetDefault("chat.reconnect.max_elapsed_time", "5m")
	v.SetDefault("chat.reconnect.max_retries", 0)

	v.SetDefault("events.topic", "postpilot:ui")
	rs := redisstream.DefaultSettings()
	v.SetDefault("events.redis.enabled", rs.Enabled)
	v.SetDefault("events.redis.addr", rs.Addr)
	v.SetDefault("events.redis.group", rs.Group)
	v.SetDefault("events.redis.consumer", rs.Consumer)

	v.SetDefault("status.cache_ttl", "30s")
	v.SetDefault("status.gate_publish", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.file", "")

	v.SetDefault("mock.addr", "127.0.0.1:8000")
}

// Loader builds a Settings value. Flags registered with BindFlags are looked up
// by their dashed names ("backend-url" for backend.url).
type Loader struct {
	v        *viper.Viper
	envFiles []string
}

func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, envFiles: []string{".env"}}
}

// Viper exposes the underlying instance, mostly for ConfigFileUsed.
func (l *Loader) Viper() *viper.Viper { return l.v }

// WithEnvFiles replaces the list of dotenv files read before the environment.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// RegisterFlags adds the persistent flags that override config keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("agent-id", "", "agent the generated posts belong to")
	fs.String("backend-url", "", "base URL of the post generation backend")
	fs.Duration("backend-timeout", 0, "timeout for a single backend request")
	fs.String("identity", "", "chat client identity")
	fs.Bool("reconnect", false, "reconnect the chat channel with exponential backoff")
	fs.Bool("status-gate", true, "check the Facebook connection before publishing (--status-gate=false skips it)")
	fs.Bool("redis", false, "publish UI events on Redis Streams")
	fs.String("redis-addr", "", "redis address for the event bus")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.String("log-format", "", "log format (auto, console, json)")
	fs.String("log-file", "", "write logs to a rotated file")
}

var flagKeys = map[string]string{
	"agent-id":        "agent_id",
	"backend-url":     "backend.url",
	"backend-timeout": "backend.timeout",
	"identity":        "chat.identity",
	"reconnect":       "chat.reconnect.enabled",
	"status-gate":     "status.gate_publish",
	"redis":           "events.redis.enabled",
	"redis-addr":      "events.redis.addr",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"log-file":        "logging.file",
}

// BindFlags binds the flags of fs that exist. Only flags set by the user
// override file and env values.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		l.v.SetConfigFile(f.Value.String())
	}
	return nil
}

// Load reads dotenv files, then the config file if one was given or found in
// the default locations.
func (l *Loader) Load() (*Settings, error) {
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}

	if l.v.ConfigFileUsed() == "" {
		if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
			l.v.SetConfigFile(p)
		} else {
			l.v.SetConfigName("postpilot")
			l.v.SetConfigType("yaml")
			l.v.AddConfigPath(".")
			if dir, err := os.UserConfigDir(); err == nil {
				l.v.AddConfigPath(dir + "/postpilot")
			}
		}
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.AgentID) == "" {
		return errors.New("agent_id must be set")
	}
	if strings.TrimSpace(s.Backend.URL) == "" {
		return errors.New("backend.url must be set")
	}
	if s.Backend.Timeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}
	if s.Events.Redis.Enabled && s.Events.Redis.Addr == "" {
		return errors.New("events.redis.addr must be set when redis is enabled")
	}
	return nil
}

// ReconnectPolicy turns the reconnect settings into a transport policy.
func (c ChatConfig) ReconnectPolicy() transport.ReconnectPolicy {
	if !c.Reconnect.Enabled {
		return transport.NeverReconnect{}
	}
	return transport.NewBackoffPolicy(c.Reconnect.Backoff())
}

// Defaults returns the built-in settings without reading any source.
func Defaults() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	_ = v.Unmarshal(&s)
	return &s
}

func (s *Settings) YAML() ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode settings")
	}
	return b, nil
}
