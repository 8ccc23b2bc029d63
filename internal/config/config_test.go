package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	tempDir := t.TempDir()
	withEnv(t, "ENTITLE_LICENSE_SECRET", "test-secret")
	withEnv(t, "ENTITLE_LICENSE_STORE_PATH", filepath.Join(tempDir, "licenses.db"))
	withEnv(t, "ENTITLE_LICENSE_STATE_FILE_PATH", filepath.Join(tempDir, "state.dat"))

	cfg, err := LoadFrom(filepath.Join(tempDir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 7, cfg.License.TrialDays)
	assert.Equal(t, 5, cfg.License.ActivationBurst)
	assert.Equal(t, 5*time.Minute, cfg.License.CacheTTL)
	assert.False(t, cfg.Fingerprint.DisableHardwareProbes)
}

func TestLoadRequiresSecret(t *testing.T) {
	withEnv(t, "ENTITLE_LICENSE_SECRET", "")

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "license secret is required")
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	content := `
server:
  port: 9999
license:
  secret: file-secret
  trial_days: 14
  store_path: ` + filepath.Join(tempDir, "file.db") + `
  state_file_path: ` + filepath.Join(tempDir, "state.dat") + `
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := LoadFrom(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.License.Secret)
	assert.Equal(t, 14, cfg.License.TrialDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")
	content := `
license:
  secret: file-secret
  store_path: ` + filepath.Join(tempDir, "file.db") + `
  state_file_path: ` + filepath.Join(tempDir, "state.dat") + `
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))
	withEnv(t, "ENTITLE_LICENSE_SECRET", "env-secret")

	cfg, err := LoadFrom(configFile)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.License.Secret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero trial days",
			mutate:  func(c *Config) { c.License.TrialDays = 0 },
			wantErr: "trial days must be positive",
		},
		{
			name:    "negative activation rate",
			mutate:  func(c *Config) { c.License.ActivationRate = -1 },
			wantErr: "activation rate must be positive",
		},
		{
			name:    "unknown log output",
			mutate:  func(c *Config) { c.Logging.Output = "syslog" },
			wantErr: "invalid logging output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Server:  ServerConfig{Port: 8090},
				Logging: LoggingConfig{Output: "stdout"},
				License: LicenseConfig{
					Secret:         "s",
					TrialDays:      7,
					ActivationRate: 1,
				},
			}
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
