// Package config loads application configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FARMGUARD_"

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Cloud     CloudConfig     `koanf:"cloud"`
	Gsm       GsmConfig       `koanf:"gsm"`
	Detection DetectionConfig `koanf:"detection"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// ServerConfig holds the local status server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	UploadURL         string        `koanf:"upload_url"`
	RateLimitRPS      float64       `koanf:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst    int           `koanf:"rate_limit_burst" validate:"gt=0"`
}

// CloudConfig holds the Firestore alert channel settings.
type CloudConfig struct {
	ProjectID       string        `koanf:"project_id" validate:"required"`
	CredentialsFile string        `koanf:"credentials_file"`
	Collection      string        `koanf:"collection" validate:"required"`
	DocID           string        `koanf:"doc_id" validate:"required"`
	UserID          string        `koanf:"user_id" validate:"required"`
	Location        string        `koanf:"location" validate:"required"`
	ReplyTimeout    time.Duration `koanf:"reply_timeout" validate:"gt=0"`
	PollInterval    time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

// GsmConfig holds the SMS fallback channel settings.
type GsmConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	BaudRate     int           `koanf:"baud_rate" validate:"gt=0"`
	Number       string        `koanf:"number" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ReplyTimeout time.Duration `koanf:"reply_timeout" validate:"gt=0"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
	SettleDelay  time.Duration `koanf:"settle_delay"`
}

// DetectionConfig holds the capture and classification settings.
type DetectionConfig struct {
	ImagePath         string        `koanf:"image_path" validate:"required"`
	ClassifierURL     string        `koanf:"classifier_url" validate:"required"`
	CaptureInterval   time.Duration `koanf:"capture_interval" validate:"gt=0"`
	MotionThreshold   int           `koanf:"motion_threshold" validate:"gt=0"`
	DetectionInterval int           `koanf:"detection_interval" validate:"gt=0"`
	ConfidenceFloor   float64       `koanf:"confidence_floor" validate:"gt=0,lte=1"`
	NoiseFloor        float64       `koanf:"noise_floor" validate:"gte=0,lte=1"`
	Cooldown          time.Duration `koanf:"cooldown" validate:"gt=0"`
	ThreatAnimals     []string      `koanf:"threat_animals" validate:"min=1"`
	ThreatConfidence  float64       `koanf:"threat_confidence" validate:"gte=0,lte=1"`
	InterAlertSpacing time.Duration `koanf:"inter_alert_spacing" validate:"gte=0"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			RateLimitRPS:      10,
			RateLimitBurst:    20,
		},
		Cloud: CloudConfig{
			Collection:   "alerts",
			DocID:        "alert_test_001",
			UserID:       "001",
			Location:     "farm_camera_1",
			ReplyTimeout: 5 * time.Minute,
			PollInterval: 5 * time.Second,
		},
		Gsm: GsmConfig{
			Port:         "/dev/ttyUSB0",
			BaudRate:     115200,
			WriteTimeout: 5 * time.Second,
			ReplyTimeout: 5 * time.Minute,
			PollInterval: 10 * time.Second,
			SettleDelay:  300 * time.Millisecond,
		},
		Detection: DetectionConfig{
			ImagePath:         "/tmp/farmguard/latest.jpg",
			ClassifierURL:     "http://127.0.0.1:5000/classify",
			CaptureInterval:   time.Second,
			MotionThreshold:   2500,
			DetectionInterval: 10,
			ConfidenceFloor:   0.8,
			NoiseFloor:        0.4,
			Cooldown:          30 * time.Second,
			ThreatAnimals:     []string{"cattle", "camel", "sheep", "goat"},
			ThreatConfidence:  0.6,
			InterAlertSpacing: 15 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file (optional) and the
// environment, layered over the defaults. Environment variables use the
// FARMGUARD_ prefix with underscores as section separators, e.g.
// FARMGUARD_GSM_PORT.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKey maps FARMGUARD_GSM_WRITE_TIMEOUT to gsm.write_timeout. The first
// underscore separates the section from the key; the rest of the key keeps
// its underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
