package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/config"
)

type hfStub struct {
	calls    [][]string
	failures int
}

func (s *hfStub) Run(_ context.Context, name string, args []string, _ io.Reader) ([]byte, []byte, error) {
	s.calls = append(s.calls, args)
	if len(s.calls) <= s.failures {
		return nil, []byte("503 Service Unavailable"), errors.New("exit status 1")
	}
	return []byte("done"), nil, nil
}

func newStubDownloader(stub *hfStub) *HuggingFaceDownloader {
	d := NewHuggingFaceDownloaderWithExecutor(backend.NewExecutorWithRunner("hf", 0, stub))
	d.retryDelay = time.Millisecond
	return d
}

func hfModel(src config.HuggingFaceSource) *config.ModelConfig {
	m := &config.ModelConfig{}
	m.SetHuggingFaceSource(src)
	return m
}

func TestLocalDownloader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ggml-base.en.bin"), []byte("ggml"), 0o644))

	d := &LocalDownloader{}

	path, cached, err := d.Download(context.Background(), &config.ModelConfig{Path: "ggml-base.en.bin"}, dir)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, filepath.Join(dir, "ggml-base.en.bin"), path)

	abs := filepath.Join(dir, "ggml-base.en.bin")
	path, _, err = d.Download(context.Background(), &config.ModelConfig{Path: abs}, "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, abs, path)

	_, _, err = d.Download(context.Background(), &config.ModelConfig{Path: "missing.bin"}, dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = d.Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "r"}), dir)
	assert.ErrorContains(t, err, "invalid source type")
}

func TestHuggingFaceDownloader_Download(t *testing.T) {
	dir := t.TempDir()
	stub := &hfStub{}
	d := newStubDownloader(stub)

	m := hfModel(config.HuggingFaceSource{
		Repo:       "ggerganov/whisper.cpp",
		Revision:   "main",
		Include:    []string{"ggml-base.bin"},
		MaxWorkers: 2,
	})

	path, cached, err := d.Download(context.Background(), m, dir)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, filepath.Join(dir, "ggerganov/whisper.cpp"), path)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, []string{
		"download", "ggerganov/whisper.cpp",
		"--local-dir", path,
		"--revision", "main",
		"--include", "ggml-base.bin",
		"--max-workers", "2",
	}, stub.calls[0])

	_, err = os.Stat(filepath.Join(path, markerFilename))
	require.NoError(t, err)

	_, cached, err = d.Download(context.Background(), m, dir)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, stub.calls, 1)

	m.Source.HuggingFace.Revision = "v1.7.0"
	_, cached, err = d.Download(context.Background(), m, dir)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, stub.calls, 2)
}

func TestHuggingFaceDownloader_Retries(t *testing.T) {
	stub := &hfStub{failures: 2}
	d := newStubDownloader(stub)

	_, _, err := d.Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "a/b"}), t.TempDir())
	require.NoError(t, err)
	assert.Len(t, stub.calls, 3)
}

func TestHuggingFaceDownloader_GivesUp(t *testing.T) {
	stub := &hfStub{failures: 10}
	d := newStubDownloader(stub)

	_, _, err := d.Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "a/b"}), t.TempDir())
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Len(t, stub.calls, defaultMaxRetries)
}

func TestHuggingFaceDownloader_InvalidRepo(t *testing.T) {
	d := newStubDownloader(&hfStub{})

	_, _, err := d.Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "  "}), t.TempDir())
	assert.ErrorContains(t, err, "invalid repo name")
}

func TestGetDownloader(t *testing.T) {
	d, err := GetDownloader(context.Background(), config.SourceTypeLocal)
	require.NoError(t, err)
	assert.IsType(t, &LocalDownloader{}, d)

	_, err = GetDownloader(context.Background(), config.SourceType("s3"))
	assert.ErrorContains(t, err, "unsupported model source")
}

func TestEnsureModelsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureModelsDirectory(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
