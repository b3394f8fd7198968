package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Launcher starts and stops engine server processes.
type Launcher interface {
	StartServer(ctx context.Context, cfg ServerConfig) error
	StopServer(name string) error
}

// ServerManager manages server processes keyed by name.
type ServerManager struct {
	servers map[string]*ServerProcess
	mu      sync.RWMutex
}

// ServerProcess represents a server running process.
type ServerProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	port   int
}

// ServerConfig defines how to start and check a backend server.
type ServerConfig struct {
	Env          map[string]string
	Name         string
	BinPath      string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration
}

// NewServerManager initializes a ServerManager.
func NewServerManager() *ServerManager {
	return &ServerManager{
		servers: map[string]*ServerProcess{},
	}
}

// StartServer starts a backend server and waits until its health endpoint answers.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.servers[cfg.Name]; exists {
		return nil // Already running
	}

	if info, err := os.Stat(cfg.BinPath); err != nil {
		return fmt.Errorf("backend: failed to start %s server: %w", cfg.Name, err)
	} else if info.IsDir() {
		return fmt.Errorf("backend: failed to start %s server: %s is a directory", cfg.Name, cfg.BinPath)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, cfg.BinPath, cfg.Args...)

	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("backend: failed to start %s server: %w", cfg.Name, err)
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Port, healthPath)
	if err := sm.waitForServer(ctx, url, timeout); err != nil {
		cancel()
		if err := cmd.Process.Kill(); err != nil {
			slog.Error("Failed to kill server process", "name", cfg.Name, "error", err)
		}
		_ = cmd.Wait()
		return fmt.Errorf("backend: %s server did not become ready: %w", cfg.Name, err)
	}

	sm.servers[cfg.Name] = &ServerProcess{
		cmd:    cmd,
		cancel: cancel,
		port:   cfg.Port,
	}

	slog.Info("Server started", "name", cfg.Name, "port", cfg.Port, "pid", cmd.Process.Pid)
	return nil
}

// StopServer terminates a backend server.
func (sm *ServerManager) StopServer(name string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	srv, exists := sm.servers[name]
	if !exists {
		return fmt.Errorf("backend: server %s not found", name)
	}

	sm.stop(name, srv)
	delete(sm.servers, name)
	return nil
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for name, srv := range sm.servers {
		sm.stop(name, srv)
	}
	sm.servers = map[string]*ServerProcess{}

	slog.Info("All servers stopped")
}

// Running reports whether a server with the given name is running.
func (sm *ServerManager) Running(name string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.servers[name]
	return ok
}

func (sm *ServerManager) stop(name string, srv *ServerProcess) {
	srv.cancel()
	if err := srv.cmd.Process.Kill(); err != nil {
		slog.Error("Failed to kill server process", "name", name, "error", err)
	}
	_ = srv.cmd.Wait()
	slog.Info("Server stopped", "name", name, "port", srv.port)
}

// waitForServer polls url until it answers 200 or the timeout expires.
func (sm *ServerManager) waitForServer(ctx context.Context, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("server failed to respond at %s within %v", url, timeout)
}
