// Package model keeps the set of loaded models and their lifecycle.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/metrics"
	"github.com/ekisa-team/whisperd/internal/session"
)

// LoadRequest describes one model to load.
type LoadRequest struct {
	ID              string
	ModelPath       string
	WarmupAudioPath string

	// Provider selects the backend; empty uses the registry default.
	Provider string
	Params   backend.Params
}

// Status is the readiness of one model id.
type Status struct {
	Loaded bool
}

// Info describes a loaded model.
type Info struct {
	ID       string
	Provider string
	LoadedAt time.Time
}

// RegistryConfig holds the collaborators shared by every session.
type RegistryConfig struct {
	Backends        *backend.Registry
	DefaultProvider string
	Decoder         *audio.Decoder
	Transcoder      *audio.Transcoder
	Metrics         *metrics.Metrics
}

// Registry stores loaded model sessions by id.
type Registry struct {
	cfg      RegistryConfig
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

// NewRegistry creates a new model registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Decoder == nil {
		cfg.Decoder = audio.NewDecoder()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
	}
}

// Load builds a session for req.ID and registers it once it is ready. A
// failed load leaves no entry behind.
func (r *Registry) Load(ctx context.Context, req LoadRequest) error {
	if req.ID == "" {
		return ErrMissingID
	}

	provider := req.Provider
	if provider == "" {
		provider = r.cfg.DefaultProvider
	}

	engine, ok := r.cfg.Backends.Get(provider)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownBackend, provider)
	}

	r.mu.Lock()
	if _, exists := r.sessions[req.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, req.ID)
	}

	if _, err := os.Stat(req.ModelPath); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrPathNotFound, req.ModelPath, err)
	}

	s := session.New(session.Config{
		ID:         req.ID,
		Engine:     engine,
		Defaults:   req.Params,
		Decoder:    r.cfg.Decoder,
		Transcoder: r.cfg.Transcoder,
	})
	s.SetStatus(session.StatusLoading)
	r.sessions[req.ID] = s
	r.mu.Unlock()

	start := time.Now()
	slog.Info("Loading model", "model_id", req.ID, "path", req.ModelPath, "provider", provider)

	if err := s.LoadModel(ctx, req.ModelPath); err != nil {
		r.discard(req.ID, s)
		return fmt.Errorf("%w: %w", ErrEngineLoadFailed, err)
	}

	if req.WarmupAudioPath != "" {
		if err := r.warmup(ctx, s, req.WarmupAudioPath); err != nil {
			r.discard(req.ID, s)
			return err
		}
	}

	s.SetStatus(session.StatusLoaded)
	r.cfg.Metrics.ObserveLoad(req.ID, start)
	r.cfg.Metrics.SetModelsLoaded(r.loadedCount())

	slog.Info("Model loaded", "model_id", req.ID, "elapsed", time.Since(start))
	return nil
}

func (r *Registry) warmup(ctx context.Context, s *session.Session, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWarmupAudioNotFound, path, err)
	}

	slog.Info("Warming up model", "model_id", s.ID(), "path", path)

	if _, err := s.Inference(ctx, session.Request{AudioPath: path, SkipConvert: true}); err != nil {
		return fmt.Errorf("%w: %w", ErrWarmupFailed, err)
	}

	return nil
}

// discard removes a session that never became ready.
func (r *Registry) discard(id string, s *session.Session) {
	r.mu.Lock()
	if r.sessions[id] == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if err := s.Close(); err != nil {
		slog.Warn("Failed to close discarded session", "model_id", id, "error", err)
	}
}

// Unload removes a loaded model and releases its handle, waiting for an
// in-flight inference. It returns false when id is absent or not loaded.
func (r *Registry) Unload(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.Status() != session.StatusLoaded {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	s.SetStatus(session.StatusUnloading)
	r.mu.Unlock()

	if err := s.Close(); err != nil {
		slog.Warn("Failed to release model", "model_id", id, "error", err)
	}

	r.cfg.Metrics.SetModelsLoaded(r.loadedCount())
	slog.Info("Model unloaded", "model_id", id)
	return true
}

// Status reports whether id is loaded.
func (r *Registry) Status(id string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return Status{Loaded: ok && s.Status() == session.StatusLoaded}
}

// Get returns the session for a loaded id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.Status() != session.StatusLoaded {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, id)
	}
	return s, nil
}

// List returns the loaded models sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.sessions))
	for id, s := range r.sessions {
		if s.Status() != session.StatusLoaded {
			continue
		}
		infos = append(infos, Info{ID: id, Provider: s.Provider(), LoadedAt: s.LoadedAt()})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close unloads every model.
func (r *Registry) Close() {
	for _, info := range r.List() {
		r.Unload(info.ID)
	}
}

func (r *Registry) loadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		if s.Status() == session.StatusLoaded {
			n++
		}
	}
	return n
}
