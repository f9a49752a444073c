package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
	if cfg.Detection.Interval != 2*time.Second || cfg.Detection.Scale != 0.25 || cfg.Detection.Tolerance != 0.6 {
		t.Errorf("unexpected detection defaults: %+v", cfg.Detection)
	}
	if !reflect.DeepEqual(cfg.Detection.Trackers, []string{"kcf", "csrt", "mil"}) {
		t.Errorf("tracker preference = %v", cfg.Detection.Trackers)
	}
	if cfg.Display.MinBrightness != 5 || cfg.Detection.UnknownLabel != "Unknown" {
		t.Errorf("unexpected display defaults: %+v", cfg.Display)
	}
}

func TestYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
camera:
  device: /dev/video2
detection:
  interval: 3s
  scale: 0.5
  trackers: [mil]
mqtt:
  broker: tcp://broker:1883
  qos: 1
`)
	t.Setenv("GATEKEEPER_SCALE", "0.2")
	t.Setenv("GATEKEEPER_TRACKERS", "csrt, mil")
	t.Setenv("GATEKEEPER_STORE", "postgres://gk@db/gk")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Camera.Device != "/dev/video2" || cfg.Detection.Interval != 3*time.Second {
		t.Errorf("YAML not applied: %+v", cfg)
	}
	if cfg.Detection.Scale != 0.2 {
		t.Errorf("env should override YAML scale, got %g", cfg.Detection.Scale)
	}
	if !reflect.DeepEqual(cfg.Detection.Trackers, []string{"csrt", "mil"}) {
		t.Errorf("trackers = %v", cfg.Detection.Trackers)
	}
	if cfg.Store.DSN != "postgres://gk@db/gk" || cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.QoS != 1 {
		t.Errorf("store/mqtt not applied: %+v %+v", cfg.Store, cfg.MQTT)
	}
	if cfg.Detection.Tolerance != 0.6 {
		t.Errorf("untouched default lost: %g", cfg.Detection.Tolerance)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	if _, err := Load(writeConfig(t, "detection: [oops")); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("GATEKEEPER_DETECT_INTERVAL", "soon")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "GATEKEEPER_DETECT_INTERVAL") {
		t.Errorf("expected env error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero scale", func(c *Config) { c.Detection.Scale = 0 }},
		{"scale above one", func(c *Config) { c.Detection.Scale = 1.5 }},
		{"negative tolerance", func(c *Config) { c.Detection.Tolerance = -1 }},
		{"zero interval", func(c *Config) { c.Detection.Interval = 0 }},
		{"zero capture interval", func(c *Config) { c.Camera.Interval = 0 }},
		{"no trackers", func(c *Config) { c.Detection.Trackers = nil }},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
