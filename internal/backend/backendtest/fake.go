// Package backendtest provides an in-process engine for tests.
package backendtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ekisa-team/whisperd/internal/backend"
)

// Engine is a fake backend.Engine. Zero values give a multilingual model
// that transcribes everything as one segment of Text.
type Engine struct {
	Name         string
	English      bool
	LoadErr      error
	RunErr       error
	Text         string
	LoadHook     func(opts backend.LoadOptions)
	ResolvedPath string

	mu      sync.Mutex
	handles []*Handle
	loads   []backend.LoadOptions
}

// Provider returns Name or "fake".
func (e *Engine) Provider() string {
	if e.Name == "" {
		return "fake"
	}
	return e.Name
}

// Load records opts and returns a new Handle unless LoadErr is set.
func (e *Engine) Load(_ context.Context, opts backend.LoadOptions) (backend.Handle, error) {
	if e.LoadHook != nil {
		e.LoadHook(opts)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.loads = append(e.loads, opts)
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}

	h := &Handle{engine: e}
	e.handles = append(e.handles, h)
	return h, nil
}

// ResolveModelPath returns ResolvedPath, or basePath when it is empty.
func (e *Engine) ResolveModelPath(basePath string) (string, error) {
	if e.ResolvedPath == "" {
		return basePath, nil
	}
	return e.ResolvedPath, nil
}

// Loads returns the options of every Load call.
func (e *Engine) Loads() []backend.LoadOptions {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]backend.LoadOptions(nil), e.loads...)
}

// Handles returns every handle created so far.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]*Handle(nil), e.handles...)
}

// Handle is a fake backend.Handle.
type Handle struct {
	engine *Engine
	runs   atomic.Int32
	closed atomic.Bool

	mu   sync.Mutex
	last backend.Params
}

// Multilingual reports the engine's setting.
func (h *Handle) Multilingual() bool {
	return !h.engine.English
}

// Run returns one segment spanning the input.
func (h *Handle) Run(_ context.Context, pcm []float32, params *backend.Params, _ *backend.AbortToken) (*backend.Result, error) {
	h.runs.Add(1)

	h.mu.Lock()
	h.last = *params
	h.mu.Unlock()

	if h.engine.RunErr != nil {
		return nil, h.engine.RunErr
	}

	text := h.engine.Text
	if text == "" {
		text = " And so my fellow Americans"
	}

	t1 := int64(len(pcm)) * 100 / 16000
	return &backend.Result{
		EOT: 50257,
		Segments: []backend.Segment{{
			T0:   0,
			T1:   t1,
			Text: text,
			Tokens: []backend.Token{
				{ID: 50364, Text: "[_BEG_]"},
				{ID: 400, Text: text, T0: 0, T1: t1, P: 0.9},
			},
		}},
	}, nil
}

// Close marks the handle closed.
func (h *Handle) Close() error {
	h.closed.Store(true)
	return nil
}

// Runs returns the number of Run calls.
func (h *Handle) Runs() int {
	return int(h.runs.Load())
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// LastParams returns the parameters of the latest Run.
func (h *Handle) LastParams() backend.Params {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.last
}
