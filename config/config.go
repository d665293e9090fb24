// Package config loads the literpc.json file used by the literpc command.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"lite-rpc/codec"
	"lite-rpc/loadbalance"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const FileName = "literpc.json"

// Duration is a time.Duration written as a string ("5s", "250ms") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete literpc.json configuration.
type Config struct {
	Codec  string       `json:"codec,omitempty"`
	Server ServerConfig `json:"server,omitempty"`
	Client ClientConfig `json:"client,omitempty"`
	Etcd   EtcdConfig   `json:"etcd,omitempty"`
	Log    LogConfig    `json:"log,omitempty"`
}

type ServerConfig struct {
	// Listen is the TCP listen address.
	Listen string `json:"listen,omitempty"`

	// Advertise is the address published to etcd. Defaults to the listen address.
	Advertise string `json:"advertise,omitempty"`

	// Debug is the HTTP address for /debug/rpc and /metrics; empty disables it.
	Debug string `json:"debug,omitempty"`

	Workers         int      `json:"workers,omitempty"`
	QueueSize       int      `json:"queueSize,omitempty"`
	MaxFrameSize    uint32   `json:"maxFrameSize,omitempty"`
	Weight          int      `json:"weight,omitempty"`
	RequestTimeout  Duration `json:"requestTimeout,omitempty"`
	RateLimit       float64  `json:"rateLimit,omitempty"` // requests per second, 0 = unlimited
	RateBurst       int      `json:"rateBurst,omitempty"`
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty"`
}

type ClientConfig struct {
	// Address targets one server directly; empty means discovery through etcd.
	Address     string   `json:"address,omitempty"`
	Balancer    string   `json:"balancer,omitempty"`
	PoolSize    int      `json:"poolSize,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
	DialTimeout Duration `json:"dialTimeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	RetryDelay  Duration `json:"retryDelay,omitempty"`
}

type EtcdConfig struct {
	Endpoints   []string `json:"endpoints,omitempty"`
	DialTimeout Duration `json:"dialTimeout,omitempty"`
	TTL         int64    `json:"ttl,omitempty"` // lease TTL in seconds
}

type LogConfig struct {
	Level       string `json:"level,omitempty"`
	Development bool   `json:"development,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Codec: "json",
		Server: ServerConfig{
			Listen:          "127.0.0.1:9090",
			Workers:         64,
			QueueSize:       1024,
			MaxFrameSize:    64 << 20,
			Weight:          1,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Client: ClientConfig{
			Balancer:    "round_robin",
			PoolSize:    1,
			Timeout:     Duration(5 * time.Second),
			DialTimeout: Duration(3 * time.Second),
			RetryDelay:  Duration(50 * time.Millisecond),
		},
		Etcd: EtcdConfig{
			DialTimeout: Duration(3 * time.Second),
			TTL:         10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if _, err := codec.ParseType(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if _, err := loadbalance.New(c.Client.Balancer); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Workers < 0 || c.Server.QueueSize < 0 {
		errs = append(errs, errors.New("server.workers and server.queueSize must not be negative"))
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst <= 0) {
		errs = append(errs, errors.New("server.rateBurst must be positive when server.rateLimit is set"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client.retries must not be negative"))
	}
	if c.Etcd.TTL < 0 {
		errs = append(errs, errors.New("etcd.ttl must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CodecType returns the configured codec.
func (c *Config) CodecType() codec.CodecType {
	t, _ := codec.ParseType(c.Codec)
	return t
}

// UseEtcd reports whether any etcd endpoint is configured.
func (c *Config) UseEtcd() bool {
	return len(c.Etcd.Endpoints) > 0
}

// Build creates the logger described by the configuration.
func (l LogConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
