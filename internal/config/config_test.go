package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	require.Equal(t, ModeAll, cfg.Mode)
	require.Equal(t, 3000, cfg.HTTP.Port)
	require.Equal(t, ":3000", cfg.HTTPAddr())
	require.Equal(t, "127.0.0.1:5000", cfg.Datagram.Address)
	require.Equal(t, 1024, cfg.Datagram.MaxPacketSize)
	require.Equal(t, "mongodb", cfg.Store.Driver)
	require.Equal(t, "messages_db", cfg.Store.Database)
	require.Equal(t, "messages", cfg.Store.Collection)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: relay
http:
  port: 8081
datagram:
  address: 127.0.0.1:6000
store:
  driver: badger
  uri: /var/lib/form-relay
  insert_timeout: 2s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, ModeRelay, cfg.Mode)
	require.Equal(t, 8081, cfg.HTTP.Port)
	require.Equal(t, "127.0.0.1:6000", cfg.Datagram.Address)
	require.Equal(t, "badger", cfg.Store.Driver)
	require.Equal(t, 2*time.Second, cfg.Store.InsertTimeout)
	// untouched keys keep their defaults
	require.Equal(t, "messages", cfg.Store.Collection)
}

func TestLoadConfig_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 8081\n")
	t.Setenv("RELAY_HTTP_PORT", "9000")
	t.Setenv("RELAY_STORE_URI", "mongodb://localhost:27017")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.HTTP.Port)
	require.Equal(t, "mongodb://localhost:27017", cfg.Store.URI)
}

func TestLoadConfig_BodyLimitWithinPacketSize(t *testing.T) {
	path := writeConfig(t, "http:\n  max_body_bytes: 4096\ndatagram:\n  max_packet_size: 4096\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(4096), cfg.HTTP.MaxBodyBytes)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "http: [port"},
		{"unknown driver", "store:\n  driver: redis\n"},
		{"port out of range", "http:\n  port: 70000\n"},
		{"amqp without url", "datagram:\n  transport: amqp\n"},
		{"bad mode", "mode: both\n"},
		{"body limit above packet size", "http:\n  max_body_bytes: 4096\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
