package session

import (
	"github.com/ekisa-team/whisperd/internal/backend"
)

// Overrides are the per-request values applied on top of a session's defaults.
// Empty strings and nil pointers keep the default.
type Overrides struct {
	Language       string
	Prompt         string
	ResponseFormat string
	Temperature    *float32
	Translate      bool
	Diarize        *bool
	DetectLanguage *bool
}

// Warning is a non-fatal adjustment made while resolving parameters.
type Warning string

const (
	// WarnNotMultilingual means language and translation were forced to English.
	WarnNotMultilingual Warning = "model is not multilingual, ignoring language and translation options"

	// WarnDiarizeNeedsStereo means diarization was dropped for single channel input.
	WarnDiarizeNeedsStereo Warning = "diarization requires stereo input, speaker labels disabled"
)

// Resolve applies o to a copy of defaults and coerces the result to what the
// model and the decoded input can support. defaults is never modified.
func Resolve(defaults backend.Params, o Overrides, multilingual, stereo bool) (backend.Params, []Warning) {
	p := defaults
	var warnings []Warning

	p.Translate = o.Translate
	if o.Language != "" {
		p.Language = o.Language
	}
	if o.Prompt != "" {
		p.Prompt = o.Prompt
	}
	if o.ResponseFormat != "" {
		p.ResponseFormat = o.ResponseFormat
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.Diarize != nil {
		p.Diarize = *o.Diarize
	}
	if o.DetectLanguage != nil {
		p.DetectLanguage = *o.DetectLanguage
	}

	if !multilingual && (p.Language != "en" || p.Translate) {
		p.Language = "en"
		p.Translate = false
		warnings = append(warnings, WarnNotMultilingual)
	}

	if p.DetectLanguage {
		p.Language = "auto"
	}

	if p.Diarize && !stereo {
		p.Diarize = false
		warnings = append(warnings, WarnDiarizeNeedsStereo)
	}

	return p, warnings
}
