package backend

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	name     string
	args     []string
	stdin    string
	deadline bool
	stdout   []byte
	stderr   []byte
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		f.stdin = string(b)
	}
	_, f.deadline = ctx.Deadline()
	return f.stdout, f.stderr, f.err
}

func TestExecutor_Execute(t *testing.T) {
	runner := &fakeRunner{stdout: []byte("ok"), stderr: []byte("warn")}
	e := NewExecutorWithRunner("/usr/bin/ffmpeg", time.Minute, runner)

	stdout, stderr, err := e.Execute(context.Background(), []string{"-version"}, strings.NewReader("in"))
	require.NoError(t, err)

	assert.Equal(t, "ok", string(stdout))
	assert.Equal(t, "warn", string(stderr))
	assert.Equal(t, "/usr/bin/ffmpeg", runner.name)
	assert.Equal(t, []string{"-version"}, runner.args)
	assert.Equal(t, "in", runner.stdin)
	assert.True(t, runner.deadline)
	assert.Equal(t, "/usr/bin/ffmpeg", e.BinaryPath())
}

func TestExecutor_NoTimeout(t *testing.T) {
	runner := &fakeRunner{}
	e := NewExecutorWithRunner("ffmpeg", 0, runner)

	_, _, err := e.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, runner.deadline)
}

func TestExecutor_PropagatesError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("bad input")}
	e := NewExecutorWithRunner("ffmpeg", time.Second, runner)

	_, stderr, err := e.Execute(context.Background(), nil, nil)
	assert.EqualError(t, err, "exit status 1")
	assert.Equal(t, "bad input", string(stderr))
}

func TestNewExecutor_MissingBinary(t *testing.T) {
	_, err := NewExecutor("/nonexistent/definitely-not-a-binary", time.Second)
	assert.Error(t, err)
}

func TestServerManager_StopUnknown(t *testing.T) {
	sm := NewServerManager()

	assert.Error(t, sm.StopServer("missing"))
	assert.False(t, sm.Running("missing"))
}

func TestServerManager_StartMissingBinary(t *testing.T) {
	sm := NewServerManager()

	err := sm.StartServer(context.Background(), ServerConfig{
		Name:    "base",
		BinPath: "/nonexistent/whisper-server",
		Port:    1,
	})
	assert.Error(t, err)
	assert.False(t, sm.Running("base"))
}
