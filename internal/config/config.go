// Package config loads and validates the YAML configuration of the pixelnet
// client.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/engine"
	"github.com/luciancaetano/pixelnet/internal/logging"
)

// Duration wraps time.Duration for YAML strings such as "20ms" or "3s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Credential is one account in the config file.
type Credential struct {
	UID       uint32 `yaml:"uid"`
	AccessKey string `yaml:"access_key"`
}

// ReconnectConfig controls redialing after the connection drops.
type ReconnectConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MaxAttempts int      `yaml:"max_attempts"`
	Delay       Duration `yaml:"delay"`
}

// ImageConfig places an image on the board.
type ImageConfig struct {
	Path  string  `yaml:"path"`
	X     int     `yaml:"x"`
	Y     int     `yaml:"y"`
	Scale float64 `yaml:"scale"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Config is the whole client configuration.
type Config struct {
	APIBase     string       `yaml:"api_base"`
	WSURL       string       `yaml:"ws_url"`
	ReadOnly    bool         `yaml:"read_only"`
	WriteOnly   bool         `yaml:"write_only"`
	Credentials []Credential `yaml:"credentials"`

	BatchSize          int      `yaml:"batch_size"`
	Cooldown           Duration `yaml:"cooldown"`
	FrameInterval      Duration `yaml:"frame_interval"`
	MaxFramesPerSecond int      `yaml:"max_frames_per_second"`
	MaxFrameSize       int      `yaml:"max_frame_size"`
	ResultTTL          Duration `yaml:"result_ttl"`
	QueueCapacity      int      `yaml:"queue_capacity"`

	// TokenRate bounds token exchange requests per second. Zero disables it.
	TokenRate float64 `yaml:"token_rate"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Image     ImageConfig     `yaml:"image"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Default returns the board defaults.
func Default() *Config {
	return &Config{
		APIBase:            "https://paintboard.luogu.me",
		WSURL:              "wss://paintboard.luogu.me/api/paintboard/ws",
		BatchSize:          pixelnet.DefaultBatchSize,
		Cooldown:           Duration{pixelnet.DefaultCooldown},
		FrameInterval:      Duration{pixelnet.DefaultFrameInterval},
		MaxFramesPerSecond: pixelnet.MaxFramesPerSecond,
		MaxFrameSize:       pixelnet.MaxFrameSize,
		ResultTTL:          Duration{pixelnet.DefaultResultTTL},
		TokenRate:          20,
		Reconnect: ReconnectConfig{
			MaxAttempts: pixelnet.DefaultReconnectAttempts,
			Delay:       Duration{pixelnet.DefaultReconnectDelay},
		},
		Image: ImageConfig{Scale: 1},
		Log:   LogConfig{Level: "info", Format: logging.FormatJSON},
		Metrics: MetricsConfig{
			Namespace: "pixelnet",
		},
	}
}

// Load reads a YAML file, expands ${ENV} references and overlays the result
// on the defaults. The returned config is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return cfg, nil
}

// Mode returns the connection mode selected by the read/write flags.
func (c *Config) Mode() pixelnet.Mode {
	switch {
	case c.ReadOnly:
		return pixelnet.ModeReadOnly
	case c.WriteOnly:
		return pixelnet.ModeWriteOnly
	default:
		return pixelnet.ModeReadWrite
	}
}

// PixelnetCredentials converts the configured accounts.
func (c *Config) PixelnetCredentials() []pixelnet.Credential {
	out := make([]pixelnet.Credential, len(c.Credentials))
	for i, cr := range c.Credentials {
		out[i] = pixelnet.Credential{AccountID: cr.UID, Secret: cr.AccessKey}
	}
	return out
}

// Validate returns every problem in the config joined together.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL(c.APIBase, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("api_base: %w", err))
	}
	if err := validateURL(c.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("ws_url: %w", err))
	}
	if c.ReadOnly && c.WriteOnly {
		errs = append(errs, errors.New("read_only and write_only are mutually exclusive"))
	}

	if len(c.Credentials) == 0 && !c.ReadOnly {
		errs = append(errs, errors.New("credentials: at least one account is required to paint"))
	}
	seen := make(map[uint32]bool, len(c.Credentials))
	for i, cr := range c.Credentials {
		if cr.UID > 0xFFFFFF {
			errs = append(errs, fmt.Errorf("credentials[%d]: uid %d does not fit in 24 bits", i, cr.UID))
		}
		if cr.AccessKey == "" {
			errs = append(errs, fmt.Errorf("credentials[%d]: access_key is empty", i))
		}
		if seen[cr.UID] {
			errs = append(errs, fmt.Errorf("credentials[%d]: duplicate uid %d", i, cr.UID))
		}
		seen[cr.UID] = true
	}

	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Cooldown.Duration < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative, got %v", c.Cooldown))
	}
	if c.FrameInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval must be positive, got %v", c.FrameInterval))
	}
	if c.MaxFramesPerSecond <= 0 || c.MaxFramesPerSecond > pixelnet.MaxFramesPerSecond {
		errs = append(errs, fmt.Errorf("max_frames_per_second must be in [1,%d], got %d", pixelnet.MaxFramesPerSecond, c.MaxFramesPerSecond))
	}
	if c.MaxFrameSize < pixelnet.PacketSize || c.MaxFrameSize > pixelnet.MaxFrameSize {
		errs = append(errs, fmt.Errorf("max_frame_size must be in [%d,%d], got %d", pixelnet.PacketSize, pixelnet.MaxFrameSize, c.MaxFrameSize))
	}
	if c.ResultTTL.Duration < 0 {
		errs = append(errs, fmt.Errorf("result_ttl must not be negative, got %v", c.ResultTTL))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must not be negative, got %d", c.QueueCapacity))
	}
	if c.TokenRate < 0 {
		errs = append(errs, fmt.Errorf("token_rate must not be negative, got %v", c.TokenRate))
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("reconnect.max_attempts must be positive, got %d", c.Reconnect.MaxAttempts))
		}
		if c.Reconnect.Delay.Duration < 0 {
			errs = append(errs, fmt.Errorf("reconnect.delay must not be negative, got %v", c.Reconnect.Delay))
		}
	}

	if c.Image.Path != "" {
		if c.Image.X < 0 || c.Image.X >= pixelnet.BoardWidth || c.Image.Y < 0 || c.Image.Y >= pixelnet.BoardHeight {
			errs = append(errs, fmt.Errorf("image: start (%d, %d) outside the %dx%d board", c.Image.X, c.Image.Y, pixelnet.BoardWidth, pixelnet.BoardHeight))
		}
	}
	if c.Image.Scale < 0 || math.IsNaN(c.Image.Scale) || math.IsInf(c.Image.Scale, 0) {
		errs = append(errs, fmt.Errorf("image.scale must be a positive number, got %v", c.Image.Scale))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q: scheme must be one of %v", raw, schemes)
}

// EngineOptions builds the engine options. Logger, metrics, observer and token
// source are left for the caller to attach.
func (c *Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.BatchSize = c.BatchSize
	opts.Cooldown = c.Cooldown.Duration
	opts.FrameInterval = c.FrameInterval.Duration
	opts.MaxFramesPerSecond = c.MaxFramesPerSecond
	opts.MaxFrameSize = c.MaxFrameSize
	opts.ResultTTL = c.ResultTTL.Duration
	opts.QueueCapacity = c.QueueCapacity
	opts.Mode = c.Mode()
	opts.Reconnect = engine.ReconnectOptions{
		Enabled:     c.Reconnect.Enabled,
		MaxAttempts: c.Reconnect.MaxAttempts,
		Delay:       c.Reconnect.Delay.Duration,
	}
	opts.Credentials = c.PixelnetCredentials()
	return opts
}

// Placement returns where the configured image goes.
func (c *Config) Placement() pixelnet.Placement {
	return pixelnet.Placement{X: c.Image.X, Y: c.Image.Y, Scale: c.Image.Scale}
}
