package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/config"
	"github.com/ekisa-team/whisperd/internal/mapsafe"
	"github.com/ekisa-team/whisperd/internal/metrics"
	"github.com/ekisa-team/whisperd/internal/model"
	"github.com/ekisa-team/whisperd/internal/render"
	"github.com/ekisa-team/whisperd/internal/session"
	"github.com/ekisa-team/whisperd/internal/xfs"
)

// Operation names used in logs and metrics.
const (
	OpLoadModel           = "load_model"
	OpUnloadModel         = "unload_model"
	OpGetModelStatus      = "get_model_status"
	OpGetModels           = "get_models"
	OpCreateTranscription = "create_transcription"
	OpCreateTranslation   = "create_translation"
)

// loadParamKeys are the payload keys a load request may use to override the
// session defaults.
var loadParamKeys = []string{
	"n_threads",
	"n_processors",
	"language",
	"convert",
	"diarize",
	"tinydiarize",
	"detect_language",
	"no_timestamps",
	"offset_n",
	"beam_size",
	"best_of",
	"response_format",
	"temperature",
	"prompt",
}

// STT is a service abstraction for speech-to-text.
type STT struct {
	models  *model.Registry
	metrics *metrics.Metrics
}

// NewSTT creates a new STT service.
func NewSTT(models *model.Registry, m *metrics.Metrics) *STT {
	if m == nil {
		m = metrics.NewNop()
	}

	return &STT{
		models:  models,
		metrics: m,
	}
}

// modelID reads "model_id" and falls back to "model".
func modelID(p Payload) string {
	if id := mapsafe.Get(p, "model_id", ""); id != "" {
		return id
	}
	return mapsafe.Get(p, "model", "")
}

func (s *STT) done(op, id string, r Reply) Reply {
	s.metrics.ObserveRequest(op, r.Status.StatusCode)

	attrs := []any{"operation", op, "model_id", id, "status_code", r.Status.StatusCode}
	if r.Status.HasError {
		slog.Warn("Request failed", append(attrs, "message", r.Body["message"])...)
	} else {
		slog.Debug("Request served", attrs...)
	}

	return r
}

// LoadModel loads the model at "model_path" under the payload's model id.
func (s *STT) LoadModel(ctx context.Context, p Payload) Reply {
	id := modelID(p)
	if id == "" {
		return s.done(OpLoadModel, id, BadRequest("No model id found in request body"))
	}

	if s.models.Status(id).Loaded {
		return s.done(OpLoadModel, id, alreadyLoaded())
	}

	modelPath := mapsafe.Get(p, "model_path", "")
	if modelPath == "" {
		slog.Error("No model path found in request body", "model_id", id)
		return s.done(OpLoadModel, id, InternalError("Failed to load model"))
	}

	overrides := make(map[string]any)
	for _, k := range loadParamKeys {
		if v, ok := p[k]; ok {
			overrides[k] = v
		}
	}

	params, err := config.ApplyParams(backend.DefaultParams(), overrides)
	if err != nil {
		return s.done(OpLoadModel, id, BadRequest("Invalid model parameters: "+err.Error()))
	}

	err = s.models.Load(ctx, model.LoadRequest{
		ID:              id,
		ModelPath:       xfs.ExpandTilde(modelPath),
		WarmupAudioPath: xfs.ExpandTilde(mapsafe.Get(p, "warmup_audio", "")),
		Provider:        mapsafe.Get(p, "engine", ""),
		Params:          params,
	})

	switch {
	case err == nil:
		return s.done(OpLoadModel, id, ok(message("Model loaded successfully")))
	case errors.Is(err, model.ErrAlreadyLoaded):
		return s.done(OpLoadModel, id, alreadyLoaded())
	case errors.Is(err, model.ErrWarmupFailed):
		slog.Error("Failed to warm up model", "model_id", id, "error", err)
		return s.done(OpLoadModel, id, BadRequest("Failed to warm up model"))
	default:
		slog.Error("Failed to load model", "model_id", id, "error", err)
		return s.done(OpLoadModel, id, InternalError("Failed to load model"))
	}
}

// UnloadModel releases a loaded model.
func (s *STT) UnloadModel(_ context.Context, p Payload) Reply {
	id := modelID(p)
	if id == "" {
		return s.done(OpUnloadModel, id, BadRequest("No model id found in request body"))
	}

	if !s.models.Unload(id) {
		return s.done(OpUnloadModel, id, Conflict("Model has not been loaded"))
	}

	return s.done(OpUnloadModel, id, ok(message("Model unloaded successfully")))
}

// GetModelStatus reports whether a model is loaded.
func (s *STT) GetModelStatus(_ context.Context, p Payload) Reply {
	id := modelID(p)
	if id == "" {
		return s.done(OpGetModelStatus, id, BadRequest("No model id found in request body"))
	}

	if !s.models.Status(id).Loaded {
		return s.done(OpGetModelStatus, id, Conflict("Model has not been loaded"))
	}

	return s.done(OpGetModelStatus, id, ok(map[string]any{
		"model_loaded": true,
		"model_data":   "",
	}))
}

// GetModels lists the loaded models.
func (s *STT) GetModels(_ context.Context, _ Payload) Reply {
	infos := s.models.List()

	data := make([]any, 0, len(infos))
	for _, info := range infos {
		data = append(data, map[string]any{
			"id":     info.ID,
			"engine": info.Provider,
			"vram":   "-",
			"ram":    "-",
			"object": "model",
		})
	}

	return s.done(OpGetModels, "", ok(map[string]any{
		"object": "list",
		"data":   data,
	}))
}

// CreateTranscription transcribes the audio file named by "file". The path
// is on the server's filesystem; when the model converts input, the file is
// replaced in place by its 16 kHz WAV rendition.
func (s *STT) CreateTranscription(ctx context.Context, p Payload) Reply {
	return s.infer(ctx, OpCreateTranscription, p, false)
}

// CreateTranslation transcribes the audio file named by "file" and
// translates it to English.
func (s *STT) CreateTranslation(ctx context.Context, p Payload) Reply {
	return s.infer(ctx, OpCreateTranslation, p, true)
}

func (s *STT) infer(ctx context.Context, op string, p Payload, translate bool) Reply {
	id := modelID(p)
	if id == "" {
		return s.done(op, id, BadRequest("No model id found in request body"))
	}

	sess, err := s.models.Get(id)
	if err != nil {
		return s.done(op, id, Conflict("Model has not been loaded"))
	}

	file := mapsafe.Get(p, "file", "")
	if file == "" {
		return s.done(op, id, BadRequest("No audio file found in request body"))
	}

	overrides := session.Overrides{
		Language:       mapsafe.Get(p, "language", ""),
		Prompt:         mapsafe.Get(p, "prompt", ""),
		ResponseFormat: mapsafe.Get(p, "response_format", ""),
		Temperature:    mapsafe.Ptr[float32](p, "temperature"),
		Translate:      translate,
		Diarize:        mapsafe.Ptr[bool](p, "diarize"),
		DetectLanguage: mapsafe.Ptr[bool](p, "detect_language"),
	}

	format := overrides.ResponseFormat
	if format == "" {
		format = sess.Defaults().ResponseFormat
	}

	start := time.Now()
	text, err := sess.Inference(ctx, session.Request{Overrides: overrides, AudioPath: file})
	s.metrics.ObserveInference(id, start)

	if err != nil {
		if errors.Is(err, session.ErrClosed) || errors.Is(err, session.ErrNotLoaded) {
			return s.done(op, id, Conflict("Model has not been loaded"))
		}
		return s.done(op, id, InternalError(err.Error()))
	}

	return s.done(op, id, ok(map[string]any{
		"text":            text,
		"response_format": render.Normalize(format),
	}))
}
