package backendtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ekisa-team/whisperd/internal/audio"
)

// WriteWAV writes a half-second 16 kHz WAV fixture into a temp dir and returns its path.
func WriteWAV(t testing.TB, channels int) string {
	t.Helper()

	frames := audio.SampleRate / 2
	samples := make([]int, frames*channels)
	for i := range samples {
		samples[i] = 1000 * (1 + i%channels)
	}

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	if err := audio.WriteWAV(f, samples, audio.SampleRate, channels); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
