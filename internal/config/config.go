// Package config loads cs108ctl settings from defaults and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/trakrf/platform-sub018/internal/cs108"
	"github.com/trakrf/platform-sub018/internal/sink"
	"github.com/trakrf/platform-sub018/internal/transport"
	"github.com/trakrf/platform-sub018/internal/worker"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every tunable. Fields left unset in the file keep their
// default tag value; an explicit zero also falls back to the default.
type Config struct {
	// LogLevel is empty for silent operation, or debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	Mode           string        `yaml:"mode" default:"inventory"`

	DeliveryMode     string        `yaml:"delivery_mode" default:"every"`
	DeliveryInterval time.Duration `yaml:"delivery_interval" default:"100ms"`
	EventRingSize    uint32        `yaml:"event_ring_size" default:"1024"`

	QueueSize         int           `yaml:"queue_size" default:"256"`
	ExpireInterval    time.Duration `yaml:"expire_interval" default:"250ms"`
	OverflowFactor    int           `yaml:"overflow_factor" default:"4"`
	BarcodeTimeout    time.Duration `yaml:"barcode_timeout" default:"2s"`
	BarcodeMaxPending int           `yaml:"barcode_max_pending" default:"8"`

	ReplayMTU  int           `yaml:"replay_mtu" default:"20"`
	ReplayPace time.Duration `yaml:"replay_pace"`

	Output      string `yaml:"output" default:"text"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject" default:"cs108.events"`

	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPrefix string        `yaml:"redis_prefix" default:"cs108"`
	RedisTTL    time.Duration `yaml:"redis_ttl" default:"5m"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path, or returns the defaults when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cs108.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := worker.ParseDeliveryMode(c.DeliveryMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := sink.ParseFormat(c.Output); err != nil {
		errs = append(errs, err)
	}
	if c.EventRingSize > worker.MaxEventRingSize {
		errs = append(errs, fmt.Errorf("event_ring_size %d exceeds maximum %d", c.EventRingSize, worker.MaxEventRingSize))
	}
	if c.ConnectTimeout < 0 || c.DeliveryInterval < 0 || c.ExpireInterval < 0 || c.BarcodeTimeout < 0 || c.ReplayPace < 0 || c.RedisTTL < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.QueueSize < 0 || c.OverflowFactor < 0 || c.BarcodeMaxPending < 0 || c.ReplayMTU < 0 || c.RedisDB < 0 {
		errs = append(errs, errors.New("sizes must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func parseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// NewLogger builds the process logger for level.
func NewLogger(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

func (c *Config) PipelineOptions() cs108.PipelineOptions {
	mode, _ := cs108.ParseMode(c.Mode)
	return cs108.PipelineOptions{
		OverflowFactor:    c.OverflowFactor,
		BarcodeTimeout:    c.BarcodeTimeout,
		BarcodeMaxPending: c.BarcodeMaxPending,
		Mode:              mode,
	}
}

func (c *Config) WorkerOptions() worker.Options {
	return worker.Options{
		QueueSize:      c.QueueSize,
		ExpireInterval: c.ExpireInterval,
		Pipeline:       c.PipelineOptions(),
	}
}

func (c *Config) Delivery() worker.DeliveryMode {
	mode, _ := worker.ParseDeliveryMode(c.DeliveryMode)
	return mode
}

func (c *Config) BLEOptions() transport.BLEOptions {
	return transport.BLEOptions{
		Address:        c.Address,
		ConnectTimeout: c.ConnectTimeout,
	}
}

func (c *Config) ReplayOptions(hex bool) transport.ReplayOptions {
	return transport.ReplayOptions{
		MTU:  c.ReplayMTU,
		Pace: c.ReplayPace,
		Hex:  hex,
	}
}

func (c *Config) NATSOptions() sink.NATSOptions {
	return sink.NATSOptions{
		URL:     c.NATSURL,
		Subject: c.NATSSubject,
	}
}

func (c *Config) RedisOptions() sink.RedisOptions {
	return sink.RedisOptions{
		Addr:   c.RedisAddr,
		DB:     c.RedisDB,
		Prefix: c.RedisPrefix,
		TTL:    c.RedisTTL,
	}
}
