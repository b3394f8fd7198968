package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Provider() string {
	return "stub"
}

func (m *MockEngine) Load(ctx context.Context, opts backend.LoadOptions) (backend.Handle, error) {
	args := m.Called(ctx, opts)
	if h := args.Get(0); h != nil {
		return h.(backend.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

// stubHandle records every call and fails the test if two runs overlap.
type stubHandle struct {
	multilingual bool
	delay        time.Duration
	gate         chan struct{}
	err          error

	active     atomic.Int32
	overlapped atomic.Bool
	closed     atomic.Bool

	mu   sync.Mutex
	seen []backend.Params
}

func (h *stubHandle) Multilingual() bool { return h.multilingual }

func (h *stubHandle) Run(_ context.Context, pcm []float32, params *backend.Params, abort *backend.AbortToken) (*backend.Result, error) {
	if h.active.Add(1) > 1 {
		h.overlapped.Store(true)
	}
	defer h.active.Add(-1)

	h.mu.Lock()
	h.seen = append(h.seen, *params)
	h.mu.Unlock()

	if h.gate != nil {
		<-h.gate
	}
	time.Sleep(h.delay)

	if h.err != nil {
		return nil, h.err
	}
	if abort.Aborted() {
		return nil, backend.ErrAborted
	}

	return &backend.Result{
		EOT: 50257,
		Segments: []backend.Segment{
			{T0: 0, T1: 100, Text: " hello"},
		},
	}, nil
}

func (h *stubHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *stubHandle) last() backend.Params {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[len(h.seen)-1]
}

func writeWAV(t *testing.T, channels int, left, right int) string {
	t.Helper()

	frames := audio.SampleRate / 2
	samples := make([]int, 0, frames*channels)
	for range frames {
		samples = append(samples, left)
		if channels == 2 {
			samples = append(samples, right)
		}
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, audio.WriteWAV(f, samples, audio.SampleRate, channels))
	require.NoError(t, f.Close())
	return path
}

func loaded(t *testing.T, h *stubHandle, mutate func(*backend.Params)) *Session {
	t.Helper()

	defaults := backend.DefaultParams()
	defaults.ResponseFormat = backend.FormatText
	if mutate != nil {
		mutate(&defaults)
	}

	engine := new(MockEngine)
	engine.On("Load", mock.Anything, mock.Anything).Return(h, nil)

	s := New(Config{ID: "base.en", Engine: engine, Defaults: defaults})
	require.NoError(t, s.LoadModel(context.Background(), "/models/ggml-base.bin"))
	return s
}

func TestInference_RendersResult(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, nil)

	out, err := s.Inference(context.Background(), Request{AudioPath: writeWAV(t, 1, 1000, 0)})
	require.NoError(t, err)
	assert.Equal(t, " hello\n", out)
}

func TestInference_SerializesEngineCalls(t *testing.T) {
	h := &stubHandle{multilingual: true, delay: 5 * time.Millisecond}
	s := loaded(t, h, nil)
	path := writeWAV(t, 1, 1000, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Inference(context.Background(), Request{AudioPath: path})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, h.overlapped.Load(), "engine entered concurrently")
	assert.Len(t, h.seen, 8)
}

func TestInference_DistinctSessionsRunInParallel(t *testing.T) {
	blocked := &stubHandle{multilingual: true, gate: make(chan struct{})}
	free := &stubHandle{multilingual: true}
	s1 := loaded(t, blocked, nil)
	s2 := loaded(t, free, nil)
	path := writeWAV(t, 1, 1000, 0)

	done := make(chan error, 1)
	go func() {
		_, err := s1.Inference(context.Background(), Request{AudioPath: path})
		done <- err
	}()
	require.Eventually(t, func() bool { return blocked.active.Load() == 1 }, time.Second, time.Millisecond)

	// s1 holds its own lock inside the engine; s2 is not held up by it.
	_, err := s2.Inference(context.Background(), Request{AudioPath: path})
	require.NoError(t, err)
	assert.Equal(t, int32(1), blocked.active.Load())

	close(blocked.gate)
	require.NoError(t, <-done)
}

func TestInference_ParametersDoNotLeak(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, nil)
	path := writeWAV(t, 1, 1000, 0)

	temp := float32(0.4)
	_, err := s.Inference(context.Background(), Request{
		AudioPath: path,
		Overrides: Overrides{Language: "de", Translate: true, Prompt: "Fachbegriffe", Temperature: &temp, ResponseFormat: backend.FormatSRT},
	})
	require.NoError(t, err)

	first := h.last()
	assert.Equal(t, "de", first.Language)
	assert.True(t, first.Translate)
	assert.Equal(t, "Fachbegriffe", first.Prompt)
	assert.Equal(t, float32(0.4), first.Temperature)
	assert.Equal(t, s.Defaults(), s.Working())

	_, err = s.Inference(context.Background(), Request{AudioPath: path})
	require.NoError(t, err)

	second := h.last()
	assert.Equal(t, "en", second.Language)
	assert.False(t, second.Translate)
	assert.Empty(t, second.Prompt)
	assert.Equal(t, float32(0), second.Temperature)
	assert.Equal(t, backend.FormatText, second.ResponseFormat)
}

func TestInference_EnglishOnlyModelIsCoerced(t *testing.T) {
	h := &stubHandle{multilingual: false}
	s := loaded(t, h, nil)

	_, err := s.Inference(context.Background(), Request{
		AudioPath: writeWAV(t, 1, 1000, 0),
		Overrides: Overrides{Language: "fr", Translate: true},
	})
	require.NoError(t, err)

	got := h.last()
	assert.Equal(t, "en", got.Language)
	assert.False(t, got.Translate)
}

func TestInference_DetectLanguage(t *testing.T) {
	h := &stubHandle{multilingual: false}
	s := loaded(t, h, func(p *backend.Params) { p.DetectLanguage = true })

	_, err := s.Inference(context.Background(), Request{AudioPath: writeWAV(t, 1, 1000, 0)})
	require.NoError(t, err)
	assert.Equal(t, "auto", h.last().Language)
}

func TestInference_DiarizeMonoHasNoLabels(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, func(p *backend.Params) { p.Diarize = true })

	out, err := s.Inference(context.Background(), Request{AudioPath: writeWAV(t, 1, 1000, 0)})
	require.NoError(t, err)
	assert.Equal(t, " hello\n", out)
	assert.False(t, h.last().Diarize)
}

func TestInference_DiarizeStereo(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, nil)

	diarize := true
	out, err := s.Inference(context.Background(), Request{
		AudioPath: writeWAV(t, 2, 200, 9000),
		Overrides: Overrides{Diarize: &diarize},
	})
	require.NoError(t, err)
	assert.Equal(t, "(speaker 1) hello\n", out)
	assert.False(t, s.Working().Diarize)
}

func TestInference_DecodeFailure(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, nil)

	_, err := s.Inference(context.Background(), Request{
		AudioPath: filepath.Join(t.TempDir(), "missing.wav"),
		Overrides: Overrides{Language: "de"},
	})
	assert.ErrorIs(t, err, ErrAudioDecodeFailed)
	assert.ErrorIs(t, err, audio.ErrInvalidWAV)
	assert.Empty(t, h.seen)
	assert.Equal(t, s.Defaults(), s.Working())
}

func TestInference_ConvertWithoutTranscoder(t *testing.T) {
	h := &stubHandle{multilingual: true}
	s := loaded(t, h, func(p *backend.Params) { p.Convert = true })

	_, err := s.Inference(context.Background(), Request{AudioPath: writeWAV(t, 1, 1000, 0)})
	assert.ErrorIs(t, err, ErrAudioConversionFailed)
}

// ffmpegStub writes wav to the output path named by the last argument.
type ffmpegStub struct {
	wav []byte
}

func (f *ffmpegStub) Run(_ context.Context, _ string, args []string, _ io.Reader) ([]byte, []byte, error) {
	return nil, nil, os.WriteFile(args[len(args)-1], f.wav, 0o644)
}

func TestInference_ConvertRewritesCallerPath(t *testing.T) {
	converted, err := os.ReadFile(writeWAV(t, 1, 1000, 0))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3 mp3 bytes"), 0o644))

	defaults := backend.DefaultParams()
	defaults.Convert = true
	engine := new(MockEngine)
	engine.On("Load", mock.Anything, mock.Anything).Return(&stubHandle{multilingual: true}, nil)

	s := New(Config{
		ID:         "base",
		Engine:     engine,
		Defaults:   defaults,
		Transcoder: audio.NewTranscoderWithExecutor(backend.NewExecutorWithRunner("ffmpeg", 0, &ffmpegStub{wav: converted})),
	})
	require.NoError(t, s.LoadModel(context.Background(), "/models/ggml-base.bin"))

	_, err = s.Inference(context.Background(), Request{AudioPath: path})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, converted, data)
}

func TestInference_EngineFailure(t *testing.T) {
	h := &stubHandle{multilingual: true, err: errors.New("whisper_full failed")}
	s := loaded(t, h, nil)

	_, err := s.Inference(context.Background(), Request{
		AudioPath: writeWAV(t, 1, 1000, 0),
		Overrides: Overrides{Language: "de"},
	})
	assert.ErrorIs(t, err, ErrInferenceFailed)
	assert.Equal(t, s.Defaults(), s.Working())
}

func TestLoadModel_FailureLeavesNoHandle(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Load", mock.Anything, mock.Anything).Return(nil, errors.New("bad magic"))

	s := New(Config{ID: "broken", Engine: engine, Defaults: backend.DefaultParams()})
	err := s.LoadModel(context.Background(), "/models/broken.bin")
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.False(t, s.Multilingual())

	_, err = s.Inference(context.Background(), Request{AudioPath: "unused.wav"})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadModel_ReleasesPreviousHandle(t *testing.T) {
	first := &stubHandle{multilingual: false}
	second := &stubHandle{multilingual: true}

	engine := new(MockEngine)
	engine.On("Load", mock.Anything, mock.Anything).Return(first, nil).Once()
	engine.On("Load", mock.Anything, mock.Anything).Return(second, nil).Once()

	defaults := backend.DefaultParams()
	defaults.Threads = 3
	s := New(Config{ID: "m", Engine: engine, Defaults: defaults})

	require.NoError(t, s.LoadModel(context.Background(), "/a.bin"))
	require.NoError(t, s.LoadModel(context.Background(), "/b.bin"))

	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
	assert.True(t, s.Multilingual())

	engine.AssertCalled(t, "Load", mock.Anything, backend.LoadOptions{ModelID: "m", ModelPath: "/b.bin", Threads: 3, Processors: 1})
}

func TestClose_WaitsForInFlightInference(t *testing.T) {
	h := &stubHandle{multilingual: true, gate: make(chan struct{})}
	s := loaded(t, h, nil)
	path := writeWAV(t, 1, 1000, 0)

	inferred := make(chan error, 1)
	go func() {
		_, err := s.Inference(context.Background(), Request{AudioPath: path})
		inferred <- err
	}()

	require.Eventually(t, func() bool { return h.active.Load() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, s.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while inference was running")
	case <-time.After(20 * time.Millisecond):
	}
	assert.False(t, h.closed.Load())

	close(h.gate)
	require.NoError(t, <-inferred)
	<-closed

	assert.True(t, h.closed.Load())

	_, err := s.Inference(context.Background(), Request{AudioPath: path})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.LoadModel(context.Background(), "/a.bin"), ErrClosed)
}

func TestStatus(t *testing.T) {
	s := New(Config{ID: "m", Engine: new(MockEngine)})
	assert.Equal(t, StatusUnloaded, s.Status())
	assert.True(t, s.LoadedAt().IsZero())

	s.SetStatus(StatusLoading)
	assert.Equal(t, "loading", s.Status().String())

	s.SetStatus(StatusLoaded)
	assert.Equal(t, StatusLoaded, s.Status())
	assert.False(t, s.LoadedAt().IsZero())

	require.NoError(t, s.Close())
	assert.Equal(t, StatusUnloaded, s.Status())
}
