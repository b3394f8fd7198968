package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaPath(t *testing.T) string {
	t.Helper()

	p, err := filepath.Abs(filepath.Join("..", "..", "configs", "whisperd.v1.schema.json"))
	require.NoError(t, err)
	return p
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
version: "1"
storage:
  models_dir: /var/lib/whisperd/models
models:
  base.en:
    path: ggml-base.en.bin
    params:
      n_threads: 2
      convert: true
services:
  stt:
    models: [base.en]
`

func TestLoadAndValidate(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, minimalConfig), schemaPath(t))
	require.NoError(t, err)

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "/var/lib/whisperd/models", cfg.Storage.ModelsDir)
	assert.Equal(t, []string{"base.en"}, cfg.Services.STT.Models)

	m := cfg.Models["base.en"]
	assert.Equal(t, DefaultBackend, m.BackendName())

	p, err := m.ResolveParams()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Threads)
	assert.True(t, p.Convert)

	assert.NotZero(t, cfg.Server.HTTPPort)
	assert.NotZero(t, cfg.Backends.WhisperCPP.BasePort)
}

func TestLoadAndValidate_ExampleConfig(t *testing.T) {
	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "config.example.yaml"), schemaPath(t))
	require.NoError(t, err)

	assert.Len(t, cfg.Services.STT.Models, 2)
	require.NotNil(t, cfg.Models["large-v3"].Source.HuggingFace)
	assert.Equal(t, "ggerganov/whisper.cpp", cfg.Models["large-v3"].Source.HuggingFace.Repo)
}

func TestLoadAndValidate_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"unknown top-level key": minimalConfig + "bogus: true\n",
		"model without source": `
version: "1"
models:
  m: {backend: whisper.cpp}
services:
  stt: {models: [m]}
`,
		"bad response format": `
version: "1"
models:
  m:
    path: m.bin
    params: {response_format: xml}
services:
  stt: {models: [m]}
`,
		"port out of range": `
version: "1"
server: {http_port: 70000}
models: {}
services:
  stt: {models: []}
`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadAndValidate(writeConfig(t, body), schemaPath(t))
			assert.ErrorContains(t, err, "validation failed")
		})
	}
}

func TestLoadAndValidate_Errors(t *testing.T) {
	_, err := LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.ErrorContains(t, err, "failed to read config")

	_, err = LoadAndValidate(writeConfig(t, "version: [unterminated"), "")
	assert.Error(t, err)

	_, err = LoadAndValidate(writeConfig(t, `
version: "1"
models:
  m:
    path: m.bin
    params: {n_threads: lots}
services:
  stt: {models: [m]}
`), "")
	assert.ErrorContains(t, err, "model m")
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloaded := make(chan *Config, 4)
	w, err := newWatcher(path, schemaPath(t), 10*time.Millisecond, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{"base.en"}, w.Snapshot().Services.STT.Models)

	updated := minimalConfig + "logging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	assert.Equal(t, "debug", w.Snapshot().Logging.Level)
	assert.GreaterOrEqual(t, w.ReloadCount(), uint32(1))
}

func TestWatcher_ReportsInvalidReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	failures := make(chan error, 4)
	w, err := newWatcher(path, schemaPath(t), 10*time.Millisecond, func(cfg *Config, err error) {
		if err != nil {
			failures <- err
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o644))

	select {
	case err := <-failures:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("invalid reload was not reported")
	}

	assert.Equal(t, "1", w.Snapshot().Version)
}

func TestNewWatcher_InvalidInitialConfig(t *testing.T) {
	_, err := NewWatcher(writeConfig(t, "version: 2\n"), schemaPath(t), nil)
	assert.ErrorContains(t, err, "failed to load initial config")
}
