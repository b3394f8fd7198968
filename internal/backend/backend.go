package backend

import (
	"context"
	"sync/atomic"
)

// Engine defines the core interface for all inference backends.
type Engine interface {
	// Provider returns the backend identifier.
	Provider() string

	// Load builds a new model handle from a model file.
	Load(ctx context.Context, opts LoadOptions) (Handle, error)
}

// Handle is one loaded model owned by exactly one session.
type Handle interface {
	// Multilingual reports whether the model can transcribe languages other than English.
	Multilingual() bool

	// Run executes inference on mono 16kHz float32 samples.
	Run(ctx context.Context, pcm []float32, params *Params, abort *AbortToken) (*Result, error)

	// Close releases the model resources.
	Close() error
}

// LoadOptions encapsulates the parameters required to load a model.
type LoadOptions struct {
	// ModelID is the registry key of the model, used for logging and naming.
	ModelID string

	// ModelPath is the path to the model file.
	ModelPath string

	// Threads is the number of threads the engine may use.
	Threads int

	// Processors is the number of parallel processors the engine may use.
	Processors int
}

// Result contains the decoded segments of one inference call.
type Result struct {
	// Segments in decode order.
	Segments []Segment

	// EOT is the end-of-text token id. Tokens with id >= EOT are special.
	EOT int
}

// Segment is a contiguous span of recognized speech. Times are in
// centisecond ticks.
type Segment struct {
	T0              int64
	T1              int64
	Text            string
	Tokens          []Token
	SpeakerTurnNext bool
}

// Token is a single decoded token with its timing and probability.
type Token struct {
	ID   int
	Text string
	T0   int64
	T1   int64
	P    float32
}

// AbortToken is checked by engines before each computation step.
// Nothing sets it yet; it exists so an abort can be wired without static state.
type AbortToken struct {
	aborted atomic.Bool
}

// Abort requests that the running inference stop.
func (t *AbortToken) Abort() {
	t.aborted.Store(true)
}

// Aborted reports whether an abort was requested. A nil token is never aborted.
func (t *AbortToken) Aborted() bool {
	return t != nil && t.aborted.Load()
}

// ModelLocator is an optional interface for engines that can locate
// the model file to load inside a downloaded directory.
type ModelLocator interface {
	// ResolveModelPath resolves the real model path inside the base downloaded directory.
	ResolveModelPath(basePath string) (string, error)
}
