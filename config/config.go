// Package config loads the settings of the rpc-center binary: defaults, then
// an optional YAML file, then RPC_CENTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rpc-center/codec"
)

const (
	RegistryMemory = "memory"
	RegistryEtcd   = "etcd"
)

type Config struct {
	Center     CenterConfig     `yaml:"center"`
	Server     ServerConfig     `yaml:"server"`
	Registry   RegistryConfig   `yaml:"registry"`
	Client     ClientConfig     `yaml:"client"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
}

type CenterConfig struct {
	ID       string `yaml:"id"` // empty: generated
	Weight   int    `yaml:"weight"`
	Version  string `yaml:"version"`
	Balancer string `yaml:"balancer"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`    // TCP address; empty disables the TCP listener
	Advertise       string        `yaml:"advertise"` // announced in the registry; defaults to Listen
	WebSocketPath   string        `yaml:"websocketPath"`
	Codec           string        `yaml:"codec"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type RegistryConfig struct {
	Kind        string        `yaml:"kind"`
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	TTL         int64         `yaml:"ttl"` // seconds
}

type ClientConfig struct {
	Connect       []string      `yaml:"connect"` // services whose providers are dialed
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

// MiddlewareConfig enables optional middleware; zero values leave it off.
type MiddlewareConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       float64       `yaml:"rateLimit"`       // requests per second, per method
	GlobalRateLimit float64       `yaml:"globalRateLimit"` // requests per second, all methods together
	Burst           int           `yaml:"burst"`
	Retries         int           `yaml:"retries"`
}

type AdminConfig struct {
	Listen string `yaml:"listen"` // empty disables the admin endpoint
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Center: CenterConfig{Weight: 1, Balancer: "RoundRobin"},
		Server: ServerConfig{
			Listen:          ":9000",
			WebSocketPath:   "/ws",
			Codec:           "json",
			Heartbeat:       30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Registry: RegistryConfig{Kind: RegistryMemory, DialTimeout: 5 * time.Second, TTL: 10},
		Client:   ClientConfig{DialTimeout: 5 * time.Second, MaxRetries: 5, RetryInterval: 100 * time.Millisecond},
		Admin:    AdminConfig{Listen: ":9100"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// Without a path, configs/rpc-center.yaml is used if it exists.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = "configs/rpc-center.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies the RPC_CENTER_* variables that are set.
func ApplyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"RPC_CENTER_ID":        &cfg.Center.ID,
		"RPC_CENTER_VERSION":   &cfg.Center.Version,
		"RPC_CENTER_BALANCER":  &cfg.Center.Balancer,
		"RPC_CENTER_LISTEN":    &cfg.Server.Listen,
		"RPC_CENTER_ADVERTISE": &cfg.Server.Advertise,
		"RPC_CENTER_CODEC":     &cfg.Server.Codec,
		"RPC_CENTER_REGISTRY":  &cfg.Registry.Kind,
		"RPC_CENTER_ADMIN":     &cfg.Admin.Listen,
		"RPC_CENTER_LOG_LEVEL": &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("RPC_CENTER_ETCD"); ok {
		cfg.Registry.Endpoints = splitList(v)
		if _, set := lookup("RPC_CENTER_REGISTRY"); !set {
			cfg.Registry.Kind = RegistryEtcd
		}
	}
	if v, ok := lookup("RPC_CENTER_CONNECT"); ok {
		cfg.Client.Connect = splitList(v)
	}
	if v, ok := lookup("RPC_CENTER_WEIGHT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RPC_CENTER_WEIGHT: %w", err)
		}
		cfg.Center.Weight = n
	}
	if v, ok := lookup("RPC_CENTER_LOG_DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RPC_CENTER_LOG_DEVELOPMENT: %w", err)
		}
		cfg.Log.Development = b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	if _, err := codec.ParseCodecType(c.Server.Codec); err != nil {
		return err
	}
	switch c.Registry.Kind {
	case RegistryMemory:
	case RegistryEtcd:
		if len(c.Registry.Endpoints) == 0 {
			return errors.New("config: etcd registry needs endpoints")
		}
	default:
		return fmt.Errorf("config: unknown registry kind %q", c.Registry.Kind)
	}
	if c.Registry.TTL <= 0 {
		return errors.New("config: registry ttl must be positive")
	}
	return nil
}

// AdvertiseAddr is the address announced for creator services.
func (c Config) AdvertiseAddr() string {
	if c.Server.Advertise != "" {
		return c.Server.Advertise
	}
	return c.Server.Listen
}
