package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/whisperd/internal/backend"
)

// ffmpegStub stands in for ffmpeg: it records the arguments and writes the
// output file named by the last argument.
type ffmpegStub struct {
	args    []string
	output  []byte
	stderr  []byte
	err     error
	noWrite bool
}

func (f *ffmpegStub) Run(_ context.Context, _ string, args []string, _ io.Reader) ([]byte, []byte, error) {
	f.args = args
	if f.err != nil {
		return nil, f.stderr, f.err
	}
	if !f.noWrite {
		if err := os.WriteFile(args[len(args)-1], f.output, 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func newStubTranscoder(stub *ffmpegStub) *Transcoder {
	return NewTranscoderWithExecutor(backend.NewExecutorWithRunner("ffmpeg", 0, stub))
}

func TestConvert_ReplacesOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3 mp3 bytes"), 0o644))

	stub := &ffmpegStub{output: []byte("RIFF converted")}
	require.NoError(t, newStubTranscoder(stub).Convert(context.Background(), path))

	assert.Equal(t, []string{
		"-i", path,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		path + "_temp.wav",
	}, stub.args)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF converted", string(data))

	_, err = os.Stat(path + "_temp.wav")
	assert.True(t, os.IsNotExist(err))
}

func TestConvert_FfmpegFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))

	stub := &ffmpegStub{err: errors.New("exit status 1"), stderr: []byte("Invalid data found when processing input\n")}
	err := newStubTranscoder(stub).Convert(context.Background(), path)

	require.ErrorIs(t, err, ErrConversionFailed)
	assert.Contains(t, err.Error(), "Invalid data found when processing input")

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "OggS", string(data))
}

func TestConvert_RemoveOriginalFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vanished.flac")

	err := newStubTranscoder(&ffmpegStub{}).Convert(context.Background(), path)
	assert.ErrorIs(t, err, ErrRemoveOriginal)
}

func TestConvert_RenameFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.m4a")
	require.NoError(t, os.WriteFile(path, []byte("ftyp"), 0o644))

	err := newStubTranscoder(&ffmpegStub{noWrite: true}).Convert(context.Background(), path)
	assert.ErrorIs(t, err, ErrRenameTemp)
}

func TestCheck(t *testing.T) {
	stub := &ffmpegStub{noWrite: true}
	require.NoError(t, newStubTranscoder(stub).Check(context.Background()))
	assert.Equal(t, []string{"-version"}, stub.args)

	failing := &ffmpegStub{err: errors.New("exec format error")}
	assert.Error(t, newStubTranscoder(failing).Check(context.Background()))
}

func TestNewTranscoder_MissingBinary(t *testing.T) {
	_, err := NewTranscoder(filepath.Join(t.TempDir(), "no-ffmpeg-here"), 0)
	assert.Error(t, err)
}
