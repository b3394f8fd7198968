package backend

import "runtime"

// Output formats understood by the renderer.
const (
	FormatText        = "text"
	FormatSRT         = "srt"
	FormatVTT         = "vtt"
	FormatVerboseJSON = "verbose_json"
	FormatJSON        = "json"
)

// Params is the parameter bundle handed to the engine for one inference call.
type Params struct {
	Threads        int     `json:"n_threads"         yaml:"n_threads"`
	Processors     int     `json:"n_processors"      yaml:"n_processors"`
	OffsetTMs      int     `json:"offset_t"          yaml:"offset_t"`
	OffsetN        int     `json:"offset_n"          yaml:"offset_n"`
	DurationMs     int     `json:"duration"          yaml:"duration"`
	MaxContext     int     `json:"max_context"       yaml:"max_context"`
	MaxLen         int     `json:"max_len"           yaml:"max_len"`
	BestOf         int     `json:"best_of"           yaml:"best_of"`
	BeamSize       int     `json:"beam_size"         yaml:"beam_size"`
	WordThold      float32 `json:"word_thold"        yaml:"word_thold"`
	EntropyThold   float32 `json:"entropy_thold"     yaml:"entropy_thold"`
	LogprobThold   float32 `json:"logprob_thold"     yaml:"logprob_thold"`
	Temperature    float32 `json:"temperature"       yaml:"temperature"`
	TemperatureInc float32 `json:"temperature_inc"   yaml:"temperature_inc"`
	SplitOnWord    bool    `json:"split_on_word"     yaml:"split_on_word"`
	Translate      bool    `json:"translate"         yaml:"translate"`
	Diarize        bool    `json:"diarize"           yaml:"diarize"`
	TinyDiarize    bool    `json:"tinydiarize"       yaml:"tinydiarize"`
	NoFallback     bool    `json:"no_fallback"       yaml:"no_fallback"`
	PrintSpecial   bool    `json:"print_special"     yaml:"print_special"`
	NoTimestamps   bool    `json:"no_timestamps"     yaml:"no_timestamps"`
	DetectLanguage bool    `json:"detect_language"   yaml:"detect_language"`
	Convert        bool    `json:"convert"           yaml:"convert"`
	Language       string  `json:"language"          yaml:"language"`
	Prompt         string  `json:"prompt"            yaml:"prompt"`
	ResponseFormat string  `json:"response_format"   yaml:"response_format"`
	SpeakerTurn    string  `json:"tdrz_speaker_turn" yaml:"tdrz_speaker_turn"`
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		Threads:        min(4, runtime.NumCPU()),
		Processors:     1,
		MaxContext:     -1,
		BestOf:         2,
		BeamSize:       -1,
		WordThold:      0.01,
		EntropyThold:   2.40,
		LogprobThold:   -1.00,
		TemperatureInc: 0.2,
		Language:       "en",
		ResponseFormat: FormatJSON,
		SpeakerTurn:    " [SPEAKER_TURN]",
	}
}

// Task returns the task name for logging.
func (p *Params) Task() string {
	if p.Translate {
		return "translate"
	}
	return "transcribe"
}
