package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
)

// Handle is one running whisper-server.
type Handle struct {
	engine       *Engine
	name         string
	port         int
	baseURL      string
	multilingual bool
	closeOnce    sync.Once
}

// TranscriptionResponse is the verbose_json body of whisper-server.
type TranscriptionResponse struct {
	Task     string              `json:"task,omitempty"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration,omitempty"`
	Text     string              `json:"text,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// TranscriptSegment represents a single segment in the transcription.
type TranscriptSegment struct {
	ID              int                        `json:"id"`
	Text            string                     `json:"text"`
	Start           float64                    `json:"start"`
	End             float64                    `json:"end"`
	Tokens          []int                      `json:"tokens,omitempty"`
	Words           []TranscriptionSegmentWord `json:"words,omitempty"`
	SpeakerTurnNext bool                       `json:"speaker_turn_next,omitempty"`
}

// TranscriptionSegmentWord represents a word in the transcription segment.
type TranscriptionSegmentWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Multilingual implements backend.Handle.
func (h *Handle) Multilingual() bool {
	return h.multilingual
}

// Run implements backend.Handle. The samples are shipped to the server as a
// 16-bit WAV together with every parameter of the bundle.
func (h *Handle) Run(ctx context.Context, pcm []float32, params *backend.Params, abort *backend.AbortToken) (*backend.Result, error) {
	if abort.Aborted() {
		return nil, backend.ErrAborted
	}

	body, contentType, err := h.buildRequest(pcm, params)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/inference", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := h.engine.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out TranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return h.toResult(&out), nil
}

func (h *Handle) buildRequest(pcm []float32, params *backend.Params) (io.Reader, string, error) {
	tmp, err := os.CreateTemp("", "whisperd-*.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := audio.EncodeWAV(tmp, pcm, audio.SampleRate); err != nil {
		return nil, "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("failed to rewind temp wav: %w", err)
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, tmp); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	for _, f := range formFields(params) {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &requestBody, writer.FormDataContentType(), nil
}

// formFields maps the bundle onto whisper-server form fields. Diarization
// is computed locally from the stereo input, so it is never forwarded.
func formFields(p *backend.Params) [][2]string {
	f := func(v float32) string { return strconv.FormatFloat(float64(v), 'f', -1, 32) }

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"language", p.Language},
		{"translate", strconv.FormatBool(p.Translate)},
		{"detect_language", strconv.FormatBool(p.DetectLanguage)},
		{"no_timestamps", strconv.FormatBool(p.NoTimestamps)},
		{"tinydiarize", strconv.FormatBool(p.TinyDiarize)},
		{"split_on_word", strconv.FormatBool(p.SplitOnWord)},
		{"no_fallback", strconv.FormatBool(p.NoFallback)},
		{"print_special", strconv.FormatBool(p.PrintSpecial)},
		{"offset_t", strconv.Itoa(p.OffsetTMs)},
		{"offset_n", strconv.Itoa(p.OffsetN)},
		{"duration", strconv.Itoa(p.DurationMs)},
		{"max_context", strconv.Itoa(p.MaxContext)},
		{"max_len", strconv.Itoa(p.MaxLen)},
		{"best_of", strconv.Itoa(p.BestOf)},
		{"beam_size", strconv.Itoa(p.BeamSize)},
		{"word_thold", f(p.WordThold)},
		{"entropy_thold", f(p.EntropyThold)},
		{"logprob_thold", f(p.LogprobThold)},
		{"temperature", f(p.Temperature)},
		{"temperature_inc", f(p.TemperatureInc)},
	}

	if p.Prompt != "" {
		fields = append(fields, [2]string{"prompt", p.Prompt})
	}

	return fields
}

// toResult maps the server response back to engine segments. Token ids are
// paired with word entries by position when both lists have the same length.
func (h *Handle) toResult(resp *TranscriptionResponse) *backend.Result {
	res := &backend.Result{
		EOT:      h.engine.eot(h.multilingual),
		Segments: make([]backend.Segment, 0, len(resp.Segments)),
	}

	for _, s := range resp.Segments {
		seg := backend.Segment{
			T0:              ticks(s.Start),
			T1:              ticks(s.End),
			Text:            s.Text,
			SpeakerTurnNext: s.SpeakerTurnNext,
		}

		paired := len(s.Tokens) == len(s.Words)
		for i, w := range s.Words {
			tok := backend.Token{
				ID:   -1,
				Text: w.Word,
				T0:   ticks(w.Start),
				T1:   ticks(w.End),
				P:    float32(w.Probability),
			}
			if paired {
				tok.ID = s.Tokens[i]
			}
			seg.Tokens = append(seg.Tokens, tok)
		}

		res.Segments = append(res.Segments, seg)
	}

	return res
}

// Close stops the server. It is safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.engine.launcher.StopServer(h.name)
		h.engine.releasePort(h.port)
	})
	return err
}
