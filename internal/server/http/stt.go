package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/ekisa-team/whisperd/internal/render"
	"github.com/ekisa-team/whisperd/internal/service"
)

type (
	// EnvelopeInput is a JSON request payload.
	EnvelopeInput struct {
		Body map[string]any `required:"false"`
	}

	// EnvelopeOutput is a status/body reply. Status becomes the HTTP status.
	EnvelopeOutput struct {
		Status int
		Body   service.Reply
	}
)

type (
	TranscribeForm struct {
		AudioFile      huma.FormFile `form:"file" contentType:"audio/*,video/*,application/octet-stream"`
		Model          string        `form:"model"`
		ModelID        string        `form:"model_id"`
		Language       string        `form:"language"`
		Prompt         string        `form:"prompt"`
		ResponseFormat string        `form:"response_format"`
		Temperature    string        `form:"temperature"`
		Diarize        string        `form:"diarize"`
		DetectLanguage string        `form:"detect_language"`
	}

	TranscribeInput struct {
		RawBody huma.MultipartFormFiles[TranscribeForm]
	}

	// TranscribeOutput carries the rendered transcript, or the JSON envelope
	// on failure.
	TranscribeOutput struct {
		Status      int
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
)

// STTHandler handles HTTP requests for STT.
type STTHandler struct {
	service   *service.STT
	uploadDir string
}

// NewSTTHandler creates a new STTHandler instance and registers its routes.
func NewSTTHandler(api huma.API, stt *service.STT, uploadDir string) *STTHandler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	h := &STTHandler{service: stt, uploadDir: uploadDir}

	envelope := func(id, method, path, summary string, fn func(context.Context, service.Payload) service.Reply) {
		huma.Register(api, huma.Operation{
			OperationID:   id,
			Method:        method,
			Path:          path,
			Summary:       summary,
			Tags:          []string{"models"},
			DefaultStatus: http.StatusOK,
		}, func(ctx context.Context, input *EnvelopeInput) (*EnvelopeOutput, error) {
			r := fn(ctx, input.Body)
			return &EnvelopeOutput{Status: r.Status.StatusCode, Body: r}, nil
		})
	}

	envelope("load-model", http.MethodPost, "/v1/models/load", "Load a model", stt.LoadModel)
	envelope("unload-model", http.MethodPost, "/v1/models/unload", "Unload a model", stt.UnloadModel)
	envelope("get-model-status", http.MethodPost, "/v1/models/status", "Report whether a model is loaded", stt.GetModelStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "list-models",
		Method:        http.MethodGet,
		Path:          "/v1/models",
		Summary:       "List loaded models",
		Tags:          []string{"models"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, _ *struct{}) (*EnvelopeOutput, error) {
		r := stt.GetModels(ctx, nil)
		return &EnvelopeOutput{Status: r.Status.StatusCode, Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-transcription",
		Method:        http.MethodPost,
		Path:          "/v1/audio/transcriptions",
		Summary:       "Transcribe speech from an audio file",
		Tags:          []string{"audio"},
		DefaultStatus: http.StatusOK,
	}, h.audioHandler(stt.CreateTranscription))

	huma.Register(api, huma.Operation{
		OperationID:   "create-translation",
		Method:        http.MethodPost,
		Path:          "/v1/audio/translations",
		Summary:       "Translate speech from an audio file to English",
		Tags:          []string{"audio"},
		DefaultStatus: http.StatusOK,
	}, h.audioHandler(stt.CreateTranslation))

	return h
}

func (h *STTHandler) audioHandler(fn func(context.Context, service.Payload) service.Reply) func(context.Context, *TranscribeInput) (*TranscribeOutput, error) {
	return func(ctx context.Context, input *TranscribeInput) (*TranscribeOutput, error) {
		form := input.RawBody.Data()

		payload, err := formPayload(form)
		if err != nil {
			return envelopeOutput(service.BadRequest(err.Error()))
		}

		if form.AudioFile.IsSet {
			path, err := h.saveUpload(form.AudioFile)
			if err != nil {
				slog.Error("Failed to store upload", "error", err)
				return envelopeOutput(service.InternalError("Failed to store uploaded audio"))
			}
			defer removeUpload(path)
			payload["file"] = path
		}

		r := fn(ctx, payload)
		if r.Status.StatusCode != http.StatusOK {
			return envelopeOutput(r)
		}

		text, _ := r.Body["text"].(string)
		format, _ := r.Body["response_format"].(string)

		return &TranscribeOutput{
			Status:      http.StatusOK,
			ContentType: render.ContentType(format),
			Body:        []byte(text),
		}, nil
	}
}

// formPayload turns the non-file form fields into a service payload.
func formPayload(form *TranscribeForm) (service.Payload, error) {
	p := service.Payload{}

	set := func(key, value string) {
		if value != "" {
			p[key] = value
		}
	}
	set("model", form.Model)
	set("model_id", form.ModelID)
	set("language", form.Language)
	set("prompt", form.Prompt)
	set("response_format", form.ResponseFormat)

	if form.Temperature != "" {
		t, err := strconv.ParseFloat(form.Temperature, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", form.Temperature)
		}
		p["temperature"] = t
	}

	for key, value := range map[string]string{"diarize": form.Diarize, "detect_language": form.DetectLanguage} {
		if value == "" {
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", key, value)
		}
		p[key] = b
	}

	return p, nil
}

// saveUpload writes the upload under a random name, keeping its extension
// so ffmpeg can probe the container.
func (h *STTHandler) saveUpload(f huma.FormFile) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(f.Filename))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, f); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	return path, nil
}

func removeUpload(path string) {
	for _, p := range []string{path, path + "_temp.wav"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove upload", "path", p, "error", err)
		}
	}
}

func envelopeOutput(r service.Reply) (*TranscribeOutput, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to encode reply", err)
	}

	return &TranscribeOutput{
		Status:      r.Status.StatusCode,
		ContentType: "application/json",
		Body:        body,
	}, nil
}
