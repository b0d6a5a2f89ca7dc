package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/webphone/pkg/config"
	"github.com/arzzra/webphone/pkg/devices"
)

func TestLoadEmptyPathGivesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Listen)
	assert.Equal(t, config.StoreFile, cfg.Store.Backend)
	assert.Equal(t, "webphone.json", cfg.Store.Path)
	assert.Equal(t, 600*time.Second, cfg.RegisterExpiresDuration())
	assert.Empty(t, cfg.SIP.DefaultWSSPort)
	assert.False(t, cfg.SIP.StopTransportOnUnregister)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webphone.yaml")
	body := `
http:
  listen: ":9090"
store:
  backend: sqlite
  path: /var/lib/webphone/settings.db
sip:
  register_expires: 120
  default_wss_port: "443"
  stop_transport_on_unregister: true
media:
  input_devices:
    - id: tone-1
      type: tone
      frequencies: [350, 440]
ringtone:
  require_unlock: true
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	assert.Equal(t, config.StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, 120*time.Second, cfg.RegisterExpiresDuration())
	assert.Equal(t, "443", cfg.SIP.DefaultWSSPort)
	assert.True(t, cfg.SIP.StopTransportOnUnregister)
	assert.Equal(t, "WebPhone/1.0", cfg.SIP.UserAgent, "не заданное в файле остается по умолчанию")
	require.Len(t, cfg.Media.InputDevices, 1)
	assert.Equal(t, devices.Spec{ID: "tone-1", Type: "tone", Frequencies: []float64{350, 440}}, cfg.Media.InputDevices[0])
	assert.True(t, cfg.Ringtone.RequireUnlock)

	log := cfg.Logger(false)
	assert.True(t, log.Enabled(context.Background(), -4))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"backend", "store: {backend: redis}"},
		{"empty path", "store: {path: ''}"},
		{"short expires", "sip: {register_expires: 10}"},
		{"log level", "log: {level: verbose}"},
		{"log format", "log: {format: xml}"},
		{"listen", "http: {listen: ''}"},
		{"syntax", "http: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, config.Parse([]byte(tt.yaml), config.Default()))
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	cfg := config.Default()
	log := cfg.Logger(false)
	assert.False(t, log.Enabled(context.Background(), -4))
	assert.True(t, log.Enabled(context.Background(), 0))

	log = cfg.Logger(true)
	assert.True(t, log.Enabled(context.Background(), -4))
}
