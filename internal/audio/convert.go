package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/whisperd/internal/backend"
)

// DefaultConvertTimeout bounds a single ffmpeg run.
const DefaultConvertTimeout = 5 * time.Minute

// Transcoder converts arbitrary containers into 16 kHz mono 16-bit PCM WAV with ffmpeg.
type Transcoder struct {
	executor *backend.Executor
}

// NewTranscoder creates a Transcoder for the ffmpeg binary at binPath (or on PATH).
func NewTranscoder(binPath string, timeout time.Duration) (*Transcoder, error) {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if timeout == 0 {
		timeout = DefaultConvertTimeout
	}

	executor, err := backend.NewExecutor(binPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("audio: ffmpeg is not available: %w", err)
	}

	return &Transcoder{executor: executor}, nil
}

// NewTranscoderWithExecutor creates a Transcoder around an existing executor.
func NewTranscoderWithExecutor(executor *backend.Executor) *Transcoder {
	return &Transcoder{executor: executor}
}

// Check runs "ffmpeg -version" to make sure the binary actually executes.
func (t *Transcoder) Check(ctx context.Context) error {
	if _, stderr, err := t.executor.Execute(ctx, []string{"-version"}, nil); err != nil {
		return fmt.Errorf("audio: ffmpeg is not usable: %w (%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// Convert rewrites the file at path in place as a WAV the Decoder accepts.
// The conversion goes to "<path>_temp.wav", then the original is removed
// and the temp file renamed over it. A failure after conversion can leave
// the temp file behind.
func (t *Transcoder) Convert(ctx context.Context, path string) error {
	tmp := path + "_temp.wav"
	args := []string{
		"-i", path,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		tmp,
	}

	slog.Debug("Converting audio", "path", path, "ffmpeg", t.executor.BinaryPath(), "args", args)

	stdout, stderr, err := t.executor.Execute(ctx, args, nil)
	if err != nil {
		diag := strings.TrimSpace(string(stderr))
		if diag == "" {
			diag = strings.TrimSpace(string(stdout))
		}
		return fmt.Errorf("%w converting %s to wav: %w: %s", ErrConversionFailed, path, err, diag)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w %s: %w", ErrRemoveOriginal, path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w %s: %w", ErrRenameTemp, tmp, err)
	}

	return nil
}
