package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/ekisa-team/whisperd/internal/envvar"
)

const (
	defaultHTTPPort        = 8080
	defaultGRPCPort        = 9090
	defaultWhisperBasePort = 39281
)

// DefaultHTTPPort returns the HTTP port, honoring WHISPERD_SERVER_HTTP_PORT.
func DefaultHTTPPort() int {
	return portFromEnv(envvar.WhisperdServerHTTPPort, defaultHTTPPort)
}

// DefaultGRPCPort returns the gRPC port, honoring WHISPERD_SERVER_GRPC_PORT.
func DefaultGRPCPort() int {
	return portFromEnv(envvar.WhisperdServerGRPCPort, defaultGRPCPort)
}

// DefaultWhisperBasePort is the first port handed to whisper-server processes.
func DefaultWhisperBasePort() int {
	return defaultWhisperBasePort
}

func portFromEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
	}
	return fallback
}

// DefaultConfigPath returns the default path for the whisperd config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "whisperd", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "whisperd")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "whisperd")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "whisperd")
		}
		return filepath.Join(home, ".config", "whisperd")
	}
}

// DefaultModelsPath returns the default path for the whisperd models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "whisperd", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "whisperd", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "whisperd", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "whisperd", "models")
		}
		return filepath.Join(home, ".cache", "whisperd", "models")
	}
}

// DefaultUploadDir returns where uploaded audio is staged while a request runs.
func DefaultUploadDir() string {
	return filepath.Join(os.TempDir(), "whisperd", "uploads")
}

// ApplyDefaults fills unset settings in place.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = DefaultHTTPPort()
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = DefaultGRPCPort()
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = DefaultUploadDir()
	}
	if c.Backends.WhisperCPP.BinPath == "" {
		c.Backends.WhisperCPP.BinPath = "whisper-server"
	}
	if c.Backends.WhisperCPP.BasePort == 0 {
		c.Backends.WhisperCPP.BasePort = DefaultWhisperBasePort()
	}
	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Models == nil {
		c.Models = map[string]ModelConfig{}
	}
}
