package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the complete service configuration.
type Settings struct {
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	WebUI   WebUIConfig   `yaml:"webui"`
	Logging LoggingConfig `yaml:"logging"`
	Yolo    YoloConfig    `yaml:"yolo"`
	Device  DeviceConfig  `yaml:"device"`
}

// AppConfig contains stream lifecycle and pipeline tuning parameters.
type AppConfig struct {
	Title string `yaml:"title"`
	Debug bool   `yaml:"debug"`

	// StreamDefaultLifetimeMinutes is applied when a start request omits a
	// lifetime. -1 means the stream is never auto-expired.
	StreamDefaultLifetimeMinutes int `yaml:"stream_default_lifetime_minutes"`

	// StreamCleanupIntervalSeconds is how often the expiry sweep runs.
	StreamCleanupIntervalSeconds int `yaml:"stream_cleanup_interval_seconds"`

	// StreamRecognitionIntervalSeconds is the minimum gap between two
	// inference results on the same stream (1/FPS of the detector output).
	StreamRecognitionIntervalSeconds float64 `yaml:"stream_recognition_interval_seconds"`

	// StreamMaxQueueSize bounds the annotated-frame buffer per feed consumer.
	StreamMaxQueueSize int `yaml:"stream_max_queue_size"`

	// ModelPoolSize is the number of inference sessions, i.e. how many
	// streams can run inference concurrently.
	ModelPoolSize int `yaml:"model_pool_size"`
}

// ServerConfig contains API server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WebUIConfig contains the embedded UI listener configuration.
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	Level   string            `yaml:"level"`
	Format  string            `yaml:"format"`
	Modules map[string]string `yaml:"modules"`
}

// YoloConfig contains model and post-processing parameters.
type YoloConfig struct {
	ModelPath           string   `yaml:"model_path"`
	ClassNames          []string `yaml:"class_names"`
	ConfidenceThreshold float32  `yaml:"confidence_threshold"`
	IoUThreshold        float32  `yaml:"iou_threshold"`

	// Providers is the preferred execution provider order. Unavailable
	// providers are skipped; CPU is always the final fallback.
	Providers []string `yaml:"providers"`
}

// DeviceConfig contains accelerator monitor configuration.
type DeviceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	PollSeconds     int    `yaml:"poll_seconds"`
	StatusFile      string `yaml:"status_file"`
	DeviceGlob      string `yaml:"device_glob"`
	SysfsClassPath  string `yaml:"sysfs_class_path"`
	HwmonSearchPath string `yaml:"hwmon_search_path"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the host:port listen address.
func (c WebUIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns the built-in configuration defaults.
func Default() Settings {
	return Settings{
		App: AppConfig{
			Title:                            "pyrowatch",
			StreamDefaultLifetimeMinutes:     10,
			StreamCleanupIntervalSeconds:     60,
			StreamRecognitionIntervalSeconds: 0.1,
			StreamMaxQueueSize:               120,
			ModelPoolSize:                    3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		WebUI: WebUIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    12021,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Yolo: YoloConfig{
			ModelPath:           "data/zoo/yolov8n_fire_smoke_640_quant.onnx",
			ClassNames:          []string{"fire", "smoke"},
			ConfidenceThreshold: 0.5,
			IoUThreshold:        0.4,
			Providers:           []string{"CPUExecutionProvider"},
		},
		Device: DeviceConfig{
			Enabled:         true,
			PollSeconds:     5,
			StatusFile:      "/data/hailo/device_status.json",
			DeviceGlob:      "/dev/hailo*",
			SysfsClassPath:  "/sys/class/hailo_chardev",
			HwmonSearchPath: "/sys/class/hwmon",
		},
	}
}

// Load reads layered YAML configuration from dir and applies environment
// overrides. Precedence, later wins: built-in defaults, default.yaml,
// <APP_ENV>.yaml, environment variables using "__" as the section delimiter
// (SERVER__PORT=8000, APP__DEBUG=true).
func Load(dir string) (*Settings, error) {
	merged := map[string]any{}

	env := strings.ToLower(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	for _, name := range []string{"default.yaml", env + ".yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		layer := map[string]any{}
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		merged = deepMerge(merged, layer)
	}

	applyEnvOverrides(merged, os.Environ())

	settings := Default()
	if len(merged) > 0 {
		// Round-trip through YAML so the merged map overlays the defaults
		// with the same decoding rules as the files themselves.
		data, err := yaml.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks value ranges. Called by Load; exported for the validate
// subcommand.
func (s *Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", s.Server.Port)
	}
	if s.WebUI.Enabled && (s.WebUI.Port < 1 || s.WebUI.Port > 65535) {
		return fmt.Errorf("webui.port out of range: %d", s.WebUI.Port)
	}
	if s.Yolo.ConfidenceThreshold < 0 || s.Yolo.ConfidenceThreshold > 1 {
		return fmt.Errorf("yolo.confidence_threshold must be in [0,1]: %v", s.Yolo.ConfidenceThreshold)
	}
	if s.Yolo.IoUThreshold < 0 || s.Yolo.IoUThreshold > 1 {
		return fmt.Errorf("yolo.iou_threshold must be in [0,1]: %v", s.Yolo.IoUThreshold)
	}
	if len(s.Yolo.ClassNames) == 0 {
		return fmt.Errorf("yolo.class_names must not be empty")
	}
	if s.App.ModelPoolSize < 1 {
		return fmt.Errorf("app.model_pool_size must be >= 1: %d", s.App.ModelPoolSize)
	}
	if s.App.StreamMaxQueueSize < 1 {
		return fmt.Errorf("app.stream_max_queue_size must be >= 1: %d", s.App.StreamMaxQueueSize)
	}
	if s.App.StreamCleanupIntervalSeconds < 1 {
		return fmt.Errorf("app.stream_cleanup_interval_seconds must be >= 1: %d", s.App.StreamCleanupIntervalSeconds)
	}
	if s.App.StreamDefaultLifetimeMinutes < -1 || s.App.StreamDefaultLifetimeMinutes == 0 {
		return fmt.Errorf("app.stream_default_lifetime_minutes must be -1 or positive: %d", s.App.StreamDefaultLifetimeMinutes)
	}
	return nil
}

// CleanupInterval returns the expiry sweep period.
func (s *Settings) CleanupInterval() time.Duration {
	return time.Duration(s.App.StreamCleanupIntervalSeconds) * time.Second
}

// RecognitionInterval returns the minimum gap between inference results.
func (s *Settings) RecognitionInterval() time.Duration {
	return time.Duration(s.App.StreamRecognitionIntervalSeconds * float64(time.Second))
}

// DevicePollInterval returns the accelerator monitor poll period.
func (s *Settings) DevicePollInterval() time.Duration {
	if s.Device.PollSeconds < 1 {
		return 5 * time.Second
	}
	return time.Duration(s.Device.PollSeconds) * time.Second
}

// deepMerge merges updates over base recursively. Maps merge key-wise,
// everything else is replaced.
func deepMerge(base, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		if sub, ok := v.(map[string]any); ok {
			if existing, exists := merged[k].(map[string]any); exists {
				merged[k] = deepMerge(existing, sub)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// applyEnvOverrides writes SECTION__KEY environment values into the config
// map. Values are decoded as YAML scalars so "true" and "8000" keep their
// types.
func applyEnvOverrides(config map[string]any, environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.Contains(name, "__") {
			continue
		}

		parts := strings.Split(strings.ToLower(name), "__")
		if len(parts) < 2 {
			continue
		}

		current := config
		for _, section := range parts[:len(parts)-1] {
			next, exists := current[section].(map[string]any)
			if !exists {
				next = map[string]any{}
				current[section] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = decodeScalar(value)
	}
}

// decodeScalar parses an environment value with YAML scalar rules.
func decodeScalar(value string) any {
	var decoded any
	if err := yaml.Unmarshal([]byte(value), &decoded); err != nil {
		return value
	}
	return decoded
}
