package model

import (
	"errors"
	"fmt"
)

// Error definitions for the model package.
var (
	ErrMissingID     = errors.New("model: no model id")
	ErrNotReady      = errors.New("model: has not been loaded")
	ErrAlreadyLoaded = errors.New("model: already loaded")

	// ErrLoadFailed is the kind shared by every failure to build a session.
	ErrLoadFailed       = errors.New("model: failed to load")
	ErrPathNotFound     = fmt.Errorf("%w: model path not found", ErrLoadFailed)
	ErrEngineLoadFailed = fmt.Errorf("%w: engine could not load the model", ErrLoadFailed)
	ErrUnknownBackend   = fmt.Errorf("%w: unknown backend", ErrLoadFailed)

	// ErrWarmupFailed is the kind shared by warm-up failures.
	ErrWarmupFailed        = errors.New("model: failed to warm up")
	ErrWarmupAudioNotFound = fmt.Errorf("%w: warm-up audio not found", ErrWarmupFailed)
)
