// Package config resolves runtime settings from defaults, an optional YAML
// file and GATEKEEPER_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/andresmejia3/gatekeeper/internal/tracking"
	"github.com/andresmejia3/gatekeeper/internal/worker"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GATEKEEPER_"

type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Detection DetectionConfig `yaml:"detection"`
	Display   DisplayConfig   `yaml:"display"`
	Store     StoreConfig     `yaml:"store"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

type CameraConfig struct {
	Device   string        `yaml:"device"` // webcam index or video path
	Interval time.Duration `yaml:"interval"`
}

type DetectionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	Scale        float64       `yaml:"scale"`
	Tolerance    float64       `yaml:"tolerance"`
	Trackers     []string      `yaml:"trackers"`
	Models       string        `yaml:"models"`
	UnknownLabel string        `yaml:"unknown_label"`
}

type DisplayConfig struct {
	Title         string        `yaml:"title"`
	MinBrightness float64       `yaml:"min_brightness"`
	KeyWait       time.Duration `yaml:"key_wait"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"` // file path or postgres:// URL
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables events
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Camera: CameraConfig{Device: "0", Interval: 10 * time.Millisecond},
		Detection: DetectionConfig{
			Interval:     worker.DefaultInterval,
			RetryDelay:   worker.DefaultRetryDelay,
			Scale:        worker.DefaultScale,
			Tolerance:    identity.DefaultTolerance,
			Trackers:     append([]string(nil), tracking.DefaultPreference...),
			Models:       "models",
			UnknownLabel: worker.DefaultUnknownLabel,
		},
		Display: DisplayConfig{Title: "Gatekeeper", MinBrightness: 5, KeyWait: time.Millisecond},
		Store:   StoreConfig{DSN: store.DefaultPath},
		MQTT:    MQTTConfig{Topic: "gatekeeper"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load layers the YAML file at path (skipped when empty) and the environment
// over the defaults, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	envString("CAMERA", &cfg.Camera.Device)
	envString("MODELS", &cfg.Detection.Models)
	envString("STORE", &cfg.Store.DSN)
	envString("WINDOW_TITLE", &cfg.Display.Title)
	envString("MQTT_BROKER", &cfg.MQTT.Broker)
	envString("MQTT_TOPIC", &cfg.MQTT.Topic)
	envString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	envString("LOG_LEVEL", &cfg.Log.Level)
	if v, ok := lookup("TRACKERS"); ok {
		cfg.Detection.Trackers = splitList(v)
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"CAPTURE_INTERVAL", &cfg.Camera.Interval},
		{"DETECT_INTERVAL", &cfg.Detection.Interval},
		{"KEY_WAIT", &cfg.Display.KeyWait},
	} {
		if err := envDuration(d.key, d.dst); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"SCALE", &cfg.Detection.Scale},
		{"TOLERANCE", &cfg.Detection.Tolerance},
		{"MIN_BRIGHTNESS", &cfg.Display.MinBrightness},
	} {
		if err := envFloat(f.key, f.dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_PRETTY: %w", envPrefix, err)
		}
		cfg.Log.Pretty = b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func envString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s (use '2s', '500ms'): %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = f
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Detection.Scale <= 0 || c.Detection.Scale > 1.0 {
		return fmt.Errorf("invalid detection scale: must be in (0, 1], got %g", c.Detection.Scale)
	}
	if c.Detection.Tolerance <= 0 || c.Detection.Tolerance > 1.0 {
		return fmt.Errorf("invalid match tolerance: must be in (0, 1], got %g", c.Detection.Tolerance)
	}
	if c.Detection.Interval <= 0 {
		return fmt.Errorf("invalid detection interval: must be positive, got %s", c.Detection.Interval)
	}
	if c.Camera.Interval <= 0 {
		return fmt.Errorf("invalid capture interval: must be positive, got %s", c.Camera.Interval)
	}
	if c.Display.KeyWait <= 0 {
		return fmt.Errorf("invalid key wait: must be positive, got %s", c.Display.KeyWait)
	}
	if len(c.Detection.Trackers) == 0 {
		return fmt.Errorf("no tracker preference configured")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.MQTT.QoS)
	}
	return nil
}
