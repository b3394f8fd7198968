package config

import (
	"errors"
	"fmt"

	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/whisperd/internal/backend"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"

	// SourceTypeLocal represents a model file already present on disk.
	SourceTypeLocal SourceType = "local"
)

// DefaultBackend is used when a model does not name one.
const DefaultBackend = "whisper.cpp"

// Config holds the main configuration for the application.
type Config struct {
	Version    string                 `json:"version"              yaml:"version"`
	Server     ServerConfig           `json:"server,omitempty"     yaml:"server,omitempty"`
	Storage    StorageConfig          `json:"storage,omitempty"    yaml:"storage,omitempty"`
	Transcoder TranscoderConfig       `json:"transcoder,omitempty" yaml:"transcoder,omitempty"`
	Backends   BackendsConfig         `json:"backends,omitempty"   yaml:"backends,omitempty"`
	Logging    LoggingConfig          `json:"logging,omitempty"    yaml:"logging,omitempty"`
	Models     map[string]ModelConfig `json:"models"               yaml:"models"`
	Services   ServicesConfig         `json:"services"             yaml:"services"`
}

// ServerConfig holds the listener settings of both façades.
type ServerConfig struct {
	Host      string `json:"host,omitempty"       yaml:"host,omitempty"`
	HTTPPort  int    `json:"http_port,omitempty"  yaml:"http_port,omitempty"`
	GRPCPort  int    `json:"grpc_port,omitempty"  yaml:"grpc_port,omitempty"`
	UploadDir string `json:"upload_dir,omitempty" yaml:"upload_dir,omitempty"`
}

// StorageConfig holds configuration for caching and auto-download.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// TranscoderConfig configures the ffmpeg binary used for container conversion.
type TranscoderConfig struct {
	FFmpegPath     string `json:"ffmpeg_path,omitempty"     yaml:"ffmpeg_path,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	WhisperCPP WhisperCPPConfig `json:"whisper.cpp,omitempty" yaml:"whisper.cpp,omitempty"`
}

// WhisperCPPConfig configures the whisper-server processes.
type WhisperCPPConfig struct {
	BinPath             string `json:"bin_path,omitempty"              yaml:"bin_path,omitempty"`
	BasePort            int    `json:"base_port,omitempty"             yaml:"base_port,omitempty"`
	ReadyTimeoutSeconds int    `json:"ready_timeout_seconds,omitempty" yaml:"ready_timeout_seconds,omitempty"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	File  string `json:"file,omitempty"  yaml:"file,omitempty"`
}

// ModelConfig holds configuration for a specific model.
type ModelConfig struct {
	Source      SourceConfig   `json:"source,omitempty"       yaml:"source,omitempty"`
	Path        string         `json:"path,omitempty"         yaml:"path,omitempty"`
	Backend     string         `json:"backend,omitempty"      yaml:"backend,omitempty"`
	WarmupAudio string         `json:"warmup_audio,omitempty" yaml:"warmup_audio,omitempty"`
	Params      map[string]any `json:"params,omitempty"       yaml:"params,omitempty"`
	Tags        []string       `json:"tags,omitempty"         yaml:"tags,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// ServicesConfig holds configuration for all services.
type ServicesConfig struct {
	STT ServicesConfigAssignment `json:"stt" yaml:"stt"`
}

// ServicesConfigAssignment holds model assignments for a service.
type ServicesConfigAssignment struct {
	Models []string `json:"models" yaml:"models"` // List of model IDs
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// LocalSource is a model file path, absolute or relative to the models directory.
type LocalSource struct {
	Path string
}

// Type returns the local source type.
func (l LocalSource) Type() SourceType {
	return SourceTypeLocal
}

// GetSource returns the active source for the model. A Hugging Face source
// takes precedence over a local path.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}
	if m.Path != "" {
		return LocalSource{Path: m.Path}, nil
	}

	return nil, errors.New("no source configured for model")
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
}

// BackendName returns the configured backend or DefaultBackend.
func (m *ModelConfig) BackendName() string {
	if m.Backend == "" {
		return DefaultBackend
	}
	return m.Backend
}

// ResolveParams overlays the model's params block onto the engine defaults.
// Keys use the same names as the request payload (n_threads, language, ...).
func (m *ModelConfig) ResolveParams() (backend.Params, error) {
	p := backend.DefaultParams()
	if len(m.Params) == 0 {
		return p, nil
	}

	return ApplyParams(p, m.Params)
}

// ApplyParams overlays a loosely typed map onto p. Unknown keys are ignored.
func ApplyParams(p backend.Params, values map[string]any) (backend.Params, error) {
	data, err := yaml.Marshal(values)
	if err != nil {
		return p, fmt.Errorf("config: encode params: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("config: invalid params: %w", err)
	}

	return p, nil
}
