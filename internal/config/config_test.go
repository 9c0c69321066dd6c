package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "10s", want: 10 * time.Second},
		{in: "1m30s", want: 90 * time.Second},
		{in: "15", want: 15 * time.Second},
		{in: " 2.5 ", want: 2500 * time.Millisecond},
		{in: "soon", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadAgentMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadAgent(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.Interval.Std())
	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())
	assert.Equal(t, "/", cfg.DiskPath)
	assert.Equal(t, 500*time.Millisecond, cfg.CPUSampleWindow.Std())
	assert.Empty(t, cfg.DeviceID)
}

func TestLoadAgentFileAndEnv(t *testing.T) {
	path := writeFile(t, `
server_url: http://collector:8000/
interval: 30
device_id: from-file
timeout: 2s
logging:
  level: debug
`)

	t.Setenv("FLEETDASH_DEVICE_ID", "from-env")
	t.Setenv("FLEETDASH_TIMEOUT", "3")

	cfg, err := LoadAgent(path)
	require.NoError(t, err)

	assert.Equal(t, "http://collector:8000", cfg.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Interval.Std())
	assert.Equal(t, "from-env", cfg.DeviceID)
	assert.Equal(t, 3*time.Second, cfg.Timeout.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAgentClampsInterval(t *testing.T) {
	path := writeFile(t, "interval: 1s\n")

	cfg, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, MinAgentInterval, cfg.Interval.Std())
}

func TestLoadAgentBadEnv(t *testing.T) {
	t.Setenv("FLEETDASH_INTERVAL", "often")

	_, err := LoadAgent("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETDASH_INTERVAL")
}

func TestLoadAgentBadYAML(t *testing.T) {
	path := writeFile(t, "interval: [1, 2]\n")

	_, err := LoadAgent(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadServer(t *testing.T) {
	path := writeFile(t, `
listen: 127.0.0.1:9000
report_interval: 15s
viewer_token: s3cret
`)
	t.Setenv("FLEETDASH_REPORT_INTERVAL", "20")

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 20*time.Second, cfg.ReportInterval.Std())
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Std())
	assert.Equal(t, "s3cret", cfg.ViewerToken)
}

func TestLoadServerRejectsNonPositiveInterval(t *testing.T) {
	path := writeFile(t, "report_interval: 0s\n")

	_, err := LoadServer(path)
	require.Error(t, err)
}

func TestLoadCtl(t *testing.T) {
	path := writeFile(t, "server_url: http://viewer:8000/\noutput: json\n")
	t.Setenv("FLEETDASH_TOKEN", "tok")

	cfg, err := LoadCtl(path)
	require.NoError(t, err)

	assert.Equal(t, "http://viewer:8000", cfg.ServerURL)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, "tok", cfg.Token)
}
