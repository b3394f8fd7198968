package audio

import "errors"

// Error definitions for the audio package.
var (
	ErrInvalidWAV                   = errors.New("audio: failed to open WAV")
	ErrUnsupportedChannelLayout     = errors.New("audio: WAV must be mono or stereo")
	ErrStereoRequiredForDiarization = errors.New("audio: WAV must be stereo for diarization")
	ErrUnsupportedSampleRate        = errors.New("audio: unsupported sample rate")
	ErrUnsupportedBitDepth          = errors.New("audio: WAV must be 16-bit")

	ErrConversionFailed = errors.New("audio: ffmpeg conversion failed")
	ErrRemoveOriginal   = errors.New("audio: failed to remove the original file")
	ErrRenameTemp       = errors.New("audio: failed to rename the temporary file")
)
