package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/config"
	"github.com/ekisa-team/whisperd/internal/config/source"
	"github.com/ekisa-team/whisperd/internal/envvar"
	"github.com/ekisa-team/whisperd/internal/xfs"
)

// DownloaderFunc picks the downloader for a model source.
type DownloaderFunc func(ctx context.Context, t config.SourceType) (source.Downloader, error)

// Manager loads the models a config assigns to the STT service.
type Manager struct {
	registry    *Registry
	downloaders DownloaderFunc
	mu          sync.Mutex
	preloaded   map[string]bool
}

// NewManager creates a manager that loads into registry.
func NewManager(registry *Registry) *Manager {
	return &Manager{
		registry:    registry,
		downloaders: source.GetDownloader,
		preloaded:   make(map[string]bool),
	}
}

// Registry returns the model registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// LoadModelsFromConfig loads every model listed under services.stt.models
// and unloads models an earlier config preloaded that are no longer listed.
// Models loaded through the API are never touched. Per-model failures are
// logged and joined into the returned error; the remaining models still load.
func (m *Manager) LoadModelsFromConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	modelsPath := resolveModelsPath(cfg)
	if err := source.EnsureModelsDirectory(modelsPath); err != nil {
		return fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
	}

	assigned := make(map[string]bool, len(cfg.Services.STT.Models))
	var errs []error

	for _, modelID := range cfg.Services.STT.Models {
		assigned[modelID] = true

		modelConfig, ok := cfg.Models[modelID]
		if !ok {
			slog.Warn("Model not found in config", "model_id", modelID)
			continue
		}

		if err := m.load(ctx, modelID, &modelConfig, modelsPath); err != nil {
			if errors.Is(err, ErrAlreadyLoaded) {
				slog.Debug("Model already loaded, skipping", "model_id", modelID)
				continue
			}
			slog.Error("Failed to load model from config", "model_id", modelID, "error", err)
			errs = append(errs, fmt.Errorf("model %s: %w", modelID, err))
			continue
		}

		m.preloaded[modelID] = true
	}

	for modelID := range m.preloaded {
		if assigned[modelID] {
			continue
		}
		delete(m.preloaded, modelID)
		if m.registry.Unload(modelID) {
			slog.Info("Model removed from config, unloaded", "model_id", modelID)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) load(ctx context.Context, modelID string, modelConfig *config.ModelConfig, modelsPath string) error {
	if m.registry.Status(modelID).Loaded {
		return ErrAlreadyLoaded
	}

	modelSource, err := modelConfig.GetSource()
	if err != nil {
		return fmt.Errorf("failed to get model source: %w", err)
	}

	downloader, err := m.downloaders(ctx, modelSource.Type())
	if err != nil {
		return fmt.Errorf("failed to get downloader: %w", err)
	}

	downloadPath, _, err := downloader.Download(ctx, modelConfig, modelsPath)
	if err != nil {
		return fmt.Errorf("failed to download model into %s: %w", modelsPath, err)
	}

	provider := modelConfig.BackendName()
	modelPath, err := m.locate(provider, downloadPath)
	if err != nil {
		return err
	}

	params, err := modelConfig.ResolveParams()
	if err != nil {
		return err
	}

	return m.registry.Load(ctx, LoadRequest{
		ID:              modelID,
		ModelPath:       modelPath,
		WarmupAudioPath: xfs.ExpandTilde(modelConfig.WarmupAudio),
		Provider:        provider,
		Params:          params,
	})
}

// locate turns a downloaded directory into the model file the backend loads.
func (m *Manager) locate(provider, downloadPath string) (string, error) {
	info, err := os.Stat(downloadPath)
	if err != nil || !info.IsDir() {
		return downloadPath, nil
	}

	engine, ok := m.registry.cfg.Backends.Get(provider)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownBackend, provider)
	}

	locator, ok := engine.(backend.ModelLocator)
	if !ok {
		return downloadPath, nil
	}

	path, err := locator.ResolveModelPath(downloadPath)
	if err != nil {
		return "", fmt.Errorf("failed to locate model file in %s: %w", downloadPath, err)
	}
	return path, nil
}

// resolveModelsPath returns the path to the models directory.
// Precedence:
// 1. WHISPERD_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func resolveModelsPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.WhisperdModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}
