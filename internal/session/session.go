// Package session serializes access to one loaded model and runs the
// convert, decode, infer and render pipeline for each request.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/render"
)

// Status is the lifecycle state of a session.
type Status int32

const (
	StatusUnloaded Status = iota
	StatusLoading
	StatusLoaded
	StatusUnloading
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusUnloading:
		return "unloading"
	default:
		return "unloaded"
	}
}

// Config holds what a session needs besides its model file.
type Config struct {
	ID       string
	Engine   backend.Engine
	Defaults backend.Params

	// Decoder defaults to audio.NewDecoder().
	Decoder *audio.Decoder

	// Transcoder is required when Defaults.Convert is set.
	Transcoder *audio.Transcoder
}

// Request is one transcription or translation call.
type Request struct {
	Overrides
	AudioPath string

	// SkipConvert decodes AudioPath as is even when conversion is enabled.
	SkipConvert bool
}

// Session owns one engine handle. Inference, LoadModel and Close hold the
// session mutex for their whole duration, so at most one engine call runs
// against the handle at a time.
type Session struct {
	id         string
	engine     backend.Engine
	decoder    *audio.Decoder
	transcoder *audio.Transcoder

	mu       sync.Mutex
	handle   backend.Handle
	defaults backend.Params
	params   backend.Params
	closed   bool

	status   atomic.Int32
	loadedAt atomic.Int64
}

// New creates an unloaded session.
func New(cfg Config) *Session {
	decoder := cfg.Decoder
	if decoder == nil {
		decoder = audio.NewDecoder()
	}

	return &Session{
		id:         cfg.ID,
		engine:     cfg.Engine,
		decoder:    decoder,
		transcoder: cfg.Transcoder,
		defaults:   cfg.Defaults,
		params:     cfg.Defaults,
	}
}

// ID returns the model id the session serves.
func (s *Session) ID() string {
	return s.id
}

// Provider returns the engine provider name.
func (s *Session) Provider() string {
	return s.engine.Provider()
}

// Defaults returns a copy of the session's default parameters.
func (s *Session) Defaults() backend.Params {
	return s.defaults
}

// Working returns a copy of the working parameter bundle. Between calls it
// always equals Defaults.
func (s *Session) Working() backend.Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.params
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// SetStatus records a lifecycle transition. A loaded transition stamps the load time.
func (s *Session) SetStatus(st Status) {
	if st == StatusLoaded {
		s.loadedAt.Store(time.Now().UnixNano())
	}
	s.status.Store(int32(st))
}

// LoadedAt returns when the session was last marked loaded.
func (s *Session) LoadedAt() time.Time {
	ns := s.loadedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Multilingual reports whether the loaded model handles languages other than English.
func (s *Session) Multilingual() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle != nil && s.handle.Multilingual()
}

// LoadModel releases any previous handle and loads the model at path. On
// failure the session is left without a handle.
func (s *Session) LoadModel(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.releaseLocked()

	h, err := s.engine.Load(ctx, backend.LoadOptions{
		ModelID:    s.id,
		ModelPath:  path,
		Threads:    s.defaults.Threads,
		Processors: s.defaults.Processors,
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrLoadFailed, path, err)
	}

	s.handle = h
	return nil
}

// Inference runs one request against the loaded model and returns the
// rendered output. The working parameters are reset to the defaults before
// it returns, whatever the outcome.
func (s *Session) Inference(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if s.handle == nil {
		return "", ErrNotLoaded
	}

	defer func() { s.params = s.defaults }()

	if s.params.Convert && !req.SkipConvert {
		if s.transcoder == nil {
			return "", fmt.Errorf("%w: no transcoder configured", ErrAudioConversionFailed)
		}
		if err := s.transcoder.Convert(ctx, req.AudioPath); err != nil {
			slog.Error("Failed to convert audio", "model_id", s.id, "path", req.AudioPath, "error", err)
			return "", fmt.Errorf("%w: %w", ErrAudioConversionFailed, err)
		}
	}

	clip, err := s.decoder.Load(req.AudioPath)
	if err != nil {
		slog.Error("Failed to read audio", "model_id", s.id, "path", req.AudioPath, "error", err)
		return "", fmt.Errorf("%w %s: %w", ErrAudioDecodeFailed, req.AudioPath, err)
	}

	params, warnings := Resolve(s.defaults, req.Overrides, s.handle.Multilingual(), clip.Channels == 2)
	for _, w := range warnings {
		slog.Warn("Adjusted request parameters", "model_id", s.id, "reason", string(w))
	}
	s.params = params

	pcm := clip.Mono()
	var stereo [][]float32
	if s.params.Diarize {
		if stereo, err = clip.Stereo(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrAudioDecodeFailed, err)
		}
	}

	slog.Info("Processing audio",
		"model_id", s.id,
		"path", req.AudioPath,
		"samples", len(pcm),
		"seconds", clip.Seconds(),
		"threads", s.params.Threads,
		"processors", s.params.Processors,
		"language", s.params.Language,
		"task", s.params.Task(),
		"tdrz", s.params.TinyDiarize,
		"timestamps", !s.params.NoTimestamps,
	)

	slog.Info("Running inference", "model_id", s.id, "provider", s.engine.Provider())

	res, err := s.handle.Run(ctx, pcm, &s.params, &backend.AbortToken{})
	if err != nil {
		slog.Error("Inference failed", "model_id", s.id, "error", err)
		return "", fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}

	out, err := render.Render(s.params.ResponseFormat, res, render.OptionsFromParams(&s.params, stereo))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	slog.Info("Successfully processed audio", "model_id", s.id, "path", req.AudioPath, "segments", len(res.Segments))

	return out, nil
}

// Close releases the handle and rejects every later call. It waits for an
// in-flight inference and is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.status.Store(int32(StatusUnloaded))
	return s.releaseLocked()
}

func (s *Session) releaseLocked() error {
	if s.handle == nil {
		return nil
	}

	err := s.handle.Close()
	s.handle = nil
	if err != nil {
		slog.Warn("Failed to release model handle", "model_id", s.id, "error", err)
		return fmt.Errorf("session: release handle: %w", err)
	}
	return nil
}
