// Package source fetches model files onto local disk.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ekisa-team/whisperd/internal/config"
)

// Downloader makes a model available under a target directory.
type Downloader interface {
	// Download returns the local path of the model and whether it was
	// already present.
	Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, t config.SourceType) (Downloader, error) {
	switch t {
	case config.SourceTypeLocal:
		return &LocalDownloader{}, nil
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader()
	default:
		return nil, fmt.Errorf("unsupported model source: %s", t)
	}
}

// EnsureModelsDirectory creates the models directory if needed.
func EnsureModelsDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	return nil
}

// LocalDownloader resolves a configured path without fetching anything.
type LocalDownloader struct{}

// Download resolves a relative path against targetDir and checks it exists.
func (d *LocalDownloader) Download(_ context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	src, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	local, ok := src.(config.LocalSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	path := local.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(targetDir, path)
	}

	if _, err := os.Stat(path); err != nil {
		return "", false, fmt.Errorf("model file %s: %w", path, err)
	}

	return path, true, nil
}
