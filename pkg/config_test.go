package pkg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))
	return file
}

func TestReadConfig(t *testing.T) {
	file := writeConfig(t, `
type: server
address: localhost:9801
paths:
  - /data/photos
watch:
  latency: 250ms
  max_batch: 64
  suppress_empty: true
  ignore: [".tmp", "~"]
journal:
  path: /tmp/fsevents.db
media:
  enabled: true
server:
  pwfile: /etc/fsevents/pw
  tls:
    key: server.key
    cert: server.crt
`)

	cfg, err := ReadConfig(file)
	require.NoError(t, err)

	assert.Equal(t, ServerType, cfg.ServiceType)
	assert.Equal(t, "localhost:9801", cfg.Address)
	assert.Equal(t, []string{"/data/photos"}, cfg.Paths)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Latency)
	assert.Equal(t, 64, cfg.Watch.MaxBatch)
	assert.True(t, cfg.Watch.SuppressEmpty)
	assert.Equal(t, []string{".tmp", "~"}, cfg.Watch.Ignore)
	assert.Equal(t, "/tmp/fsevents.db", cfg.Journal.Path)
	assert.True(t, cfg.Media.Enabled)
	assert.Equal(t, "server.key", cfg.Server.TLS.Key)
	assert.Equal(t, "/etc/fsevents/pw", cfg.Server.PwFile)
}

func TestReadConfig_EnvOverrides(t *testing.T) {
	file := writeConfig(t, `
type: watch
paths: [/a]
watch:
  latency: 1s
`)
	t.Setenv("FSEVENTS_LATENCY", "10ms")
	t.Setenv("FSEVENTS_PATHS", "/b,/c")

	cfg, err := ReadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.Watch.Latency)
	assert.Equal(t, []string{"/b", "/c"}, cfg.Paths)
}

func TestReadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown type", content: "type: nope\npaths: [/a]\n"},
		{name: "watch without paths", content: "type: watch\n"},
		{name: "server without address", content: "type: server\npaths: [/a]\n"},
		{name: "client without address", content: "type: client\n"},
		{name: "broken yaml", content: "type: [watch\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}

	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, "type: watch\npaths: [/a]\n"))
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Latency)
	assert.Equal(t, 1024, cfg.Watch.MaxBatch)
	assert.Empty(t, cfg.Journal.Path)
}

func TestLoadConfig_Overrides(t *testing.T) {
	file := writeConfig(t, "type: server\naddress: localhost:1\npaths: [/a]\n")

	cfg, err := LoadConfig(file, WatchType, []string{"/x", "/y"})
	require.NoError(t, err)
	assert.Equal(t, WatchType, cfg.ServiceType)
	assert.Equal(t, []string{"/x", "/y"}, cfg.Paths)

	cfg, err = LoadConfig("", WatchType, []string{"/only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/only"}, cfg.Paths)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Latency)

	_, err = LoadConfig("", WatchType, nil)
	require.Error(t, err, "watch without paths")
}
