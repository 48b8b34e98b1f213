package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, `
cloud:
  project_id: test-project
gsm:
  number: "+15551234567"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "alert_test_001", cfg.Cloud.DocID)
	assert.Equal(t, "001", cfg.Cloud.UserID)
	assert.Equal(t, "farm_camera_1", cfg.Cloud.Location)
	assert.Equal(t, 115200, cfg.Gsm.BaudRate)
	assert.Equal(t, 5*time.Minute, cfg.Gsm.ReplyTimeout)
	assert.Equal(t, 10*time.Second, cfg.Gsm.PollInterval)
	assert.Equal(t, 2500, cfg.Detection.MotionThreshold)
	assert.Equal(t, 10, cfg.Detection.DetectionInterval)
	assert.Equal(t, 0.8, cfg.Detection.ConfidenceFloor)
	assert.Equal(t, 30*time.Second, cfg.Detection.Cooldown)
	assert.Equal(t, 15*time.Second, cfg.Detection.InterAlertSpacing)
	assert.Contains(t, cfg.Detection.ThreatAnimals, "goat")
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
log:
  level: debug
  format: json
cloud:
  project_id: test-project
  collection: farm_alerts
gsm:
  port: /dev/ttyAMA0
  number: "+15551234567"
  reply_timeout: 2m
detection:
  threat_animals: [boar]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "farm_alerts", cfg.Cloud.Collection)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Gsm.Port)
	assert.Equal(t, 2*time.Minute, cfg.Gsm.ReplyTimeout)
	assert.Equal(t, []string{"boar"}, cfg.Detection.ThreatAnimals)
	// untouched defaults survive
	assert.Equal(t, 5*time.Second, cfg.Cloud.PollInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
cloud:
  project_id: test-project
`)

	t.Setenv("FARMGUARD_GSM_PORT", "/dev/ttyS1")
	t.Setenv("FARMGUARD_GSM_NUMBER", "+15550000000")
	t.Setenv("FARMGUARD_LOG_LEVEL", "warn")
	t.Setenv("FARMGUARD_CLOUD_USER_ID", "042")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS1", cfg.Gsm.Port)
	assert.Equal(t, "+15550000000", cfg.Gsm.Number)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "042", cfg.Cloud.UserID)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FARMGUARD_CLOUD_PROJECT_ID", "test-project")
	t.Setenv("FARMGUARD_GSM_NUMBER", "+15550000000")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing project id",
			content: `
gsm:
  number: "+15551234567"
`,
		},
		{
			name: "bad log level",
			content: `
log:
  level: verbose
cloud:
  project_id: test-project
`,
		},
		{
			name: "zero poll interval",
			content: `
cloud:
  project_id: test-project
  poll_interval: 0s
`,
		},
		{
			name: "empty threat animals",
			content: `
cloud:
  project_id: test-project
detection:
  threat_animals: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "cloud: ["))
	assert.Error(t, err)
}
