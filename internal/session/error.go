package session

import "errors"

// Error definitions for the session package.
var (
	ErrClosed     = errors.New("session: closed")
	ErrNotLoaded  = errors.New("session: no model loaded")
	ErrLoadFailed = errors.New("session: failed to load model")

	ErrAudioConversionFailed = errors.New("session: audio conversion failed")
	ErrAudioDecodeFailed     = errors.New("session: failed to read WAV file")
	ErrInferenceFailed       = errors.New("session: failed to process audio")
	ErrRenderFailed          = errors.New("session: failed to render output")
)
