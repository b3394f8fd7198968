// Package whisper runs whisper.cpp models through whisper-server processes,
// one per loaded model.
package whisper

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ekisa-team/whisperd/internal/backend"
)

const (
	// BackendName is the provider name of this engine.
	BackendName = "whisper.cpp"

	// DefaultBasePort is the first port handed to a whisper-server.
	DefaultBasePort = 39281

	eotMultilingual = 50257
	eotEnglish      = 50256
)

// Config configures the engine.
type Config struct {
	// BinPath is the whisper-server binary, absolute or on PATH.
	BinPath string

	// Host the servers bind to. Defaults to 127.0.0.1.
	Host string

	// BasePort is the first port tried for a new server.
	BasePort int

	// ReadyTimeout bounds server startup.
	ReadyTimeout time.Duration

	// RequestTimeout bounds one inference request.
	RequestTimeout time.Duration
}

// Engine implements backend.Engine for whisper.cpp.
type Engine struct {
	cfg      Config
	launcher backend.Launcher
	client   *http.Client

	mu    sync.Mutex
	ports map[int]bool
}

// NewEngine creates an engine that starts servers through launcher.
func NewEngine(cfg Config, launcher backend.Launcher) *Engine {
	if cfg.BinPath == "" {
		cfg.BinPath = "whisper-server"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = DefaultBasePort
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Minute
	}

	return &Engine{
		cfg:      cfg,
		launcher: launcher,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		ports:    make(map[int]bool),
	}
}

// Provider implements backend.Engine.
func (e *Engine) Provider() string {
	return BackendName
}

// Load starts a whisper-server for opts.ModelPath and waits until it answers.
func (e *Engine) Load(ctx context.Context, opts backend.LoadOptions) (backend.Handle, error) {
	port := e.allocatePort()
	name := fmt.Sprintf("%s/%s:%d", BackendName, opts.ModelID, port)

	binPath := e.cfg.BinPath
	if resolved, err := exec.LookPath(binPath); err == nil {
		binPath = resolved
	}

	args := []string{
		"--model", opts.ModelPath,
		"--host", e.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if opts.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(opts.Threads))
	}
	if opts.Processors > 0 {
		args = append(args, "--processors", strconv.Itoa(opts.Processors))
	}

	if err := e.launcher.StartServer(ctx, backend.ServerConfig{
		Name:         name,
		BinPath:      binPath,
		Args:         args,
		Port:         port,
		HealthPath:   "/", // whisper-server has no dedicated health endpoint
		ReadyTimeout: e.cfg.ReadyTimeout,
	}); err != nil {
		e.releasePort(port)
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	slog.Debug("whisper-server ready", "model_id", opts.ModelID, "port", port, "model", opts.ModelPath)

	return &Handle{
		engine:       e,
		name:         name,
		port:         port,
		baseURL:      fmt.Sprintf("http://%s:%d", e.cfg.Host, port),
		multilingual: Multilingual(opts.ModelPath),
	}, nil
}

// ResolveModelPath implements backend.ModelLocator. It returns the first
// ggml-*.bin file under basePath in lexical order.
func (e *Engine) ResolveModelPath(basePath string) (string, error) {
	var matches []string
	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && path != basePath {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), "ggml-") && strings.HasSuffix(d.Name(), ".bin") {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", basePath, err)
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("no ggml-*.bin model found in %s", basePath)
	}

	sort.Strings(matches)
	return matches[0], nil
}

// Multilingual reports whether a model file can handle languages other than
// English. whisper.cpp names English-only models "*.en.bin".
func Multilingual(modelPath string) bool {
	name := strings.ToLower(filepath.Base(modelPath))
	return !strings.Contains(name, ".en.") && !strings.HasSuffix(name, ".en.bin")
}

func (e *Engine) eot(multilingual bool) int {
	if multilingual {
		return eotMultilingual
	}
	return eotEnglish
}

func (e *Engine) allocatePort() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	port := e.cfg.BasePort
	for e.ports[port] {
		port++
	}
	e.ports[port] = true
	return port
}

func (e *Engine) releasePort(port int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.ports, port)
}

// ticks converts seconds to centisecond ticks.
func ticks(seconds float64) int64 {
	return int64(math.Round(seconds * 100))
}
