// Package render turns engine segments into the response formats served to clients.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
)

// Options controls how a result is rendered.
type Options struct {
	// Diarize requests speaker labels. Labels are only emitted when Stereo
	// holds two channels.
	Diarize bool
	Stereo  [][]float32

	// OffsetN shifts the SRT cue numbering.
	OffsetN int

	NoTimestamps bool
}

// OptionsFromParams builds render options from a resolved parameter bundle.
func OptionsFromParams(p *backend.Params, stereo [][]float32) Options {
	return Options{
		Diarize:      p.Diarize,
		Stereo:       stereo,
		OffsetN:      p.OffsetN,
		NoTimestamps: p.NoTimestamps,
	}
}

// Normalize maps a requested format to one the renderer knows. Anything
// unrecognized renders as json.
func Normalize(format string) string {
	switch format {
	case backend.FormatText, backend.FormatSRT, backend.FormatVTT, backend.FormatVerboseJSON:
		return format
	default:
		return backend.FormatJSON
	}
}

// ContentType returns the MIME type of a rendered format.
func ContentType(format string) string {
	switch Normalize(format) {
	case backend.FormatText:
		return "text/plain; charset=utf-8"
	case backend.FormatSRT:
		return "application/x-subrip; charset=utf-8"
	case backend.FormatVTT:
		return "text/vtt; charset=utf-8"
	default:
		return "application/json"
	}
}

// Render formats res. A nil result renders as an empty transcript.
func Render(format string, res *backend.Result, opts Options) (string, error) {
	if res == nil {
		res = &backend.Result{}
	}

	switch Normalize(format) {
	case backend.FormatText:
		return plain(res, opts), nil
	case backend.FormatSRT:
		return srt(res, opts), nil
	case backend.FormatVTT:
		return vtt(res, opts), nil
	case backend.FormatVerboseJSON:
		return verboseJSON(res, opts)
	default:
		return encode(textBody{Text: plain(res, opts)})
	}
}

// Timestamp formats centisecond ticks as HH:MM:SS.mmm, or HH:MM:SS,mmm
// when comma is set.
func Timestamp(t int64, comma bool) string {
	msec := t * 10
	hr := msec / (1000 * 60 * 60)
	msec -= hr * (1000 * 60 * 60)
	minutes := msec / (1000 * 60)
	msec -= minutes * (1000 * 60)
	sec := msec / 1000
	msec -= sec * 1000

	sep := "."
	if comma {
		sep = ","
	}

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hr, minutes, sec, sep, msec)
}

func (o Options) labels() bool {
	return o.Diarize && len(o.Stereo) == 2
}

func plain(res *backend.Result, opts Options) string {
	var sb strings.Builder
	for _, seg := range res.Segments {
		if opts.labels() {
			sb.WriteString(audio.EstimateSpeaker(opts.Stereo, seg.T0, seg.T1, false))
		}
		sb.WriteString(seg.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func srt(res *backend.Result, opts Options) string {
	var sb strings.Builder
	for i, seg := range res.Segments {
		sb.WriteString(strconv.Itoa(i + 1 + opts.OffsetN))
		sb.WriteByte('\n')
		sb.WriteString(Timestamp(seg.T0, true) + " --> " + Timestamp(seg.T1, true) + "\n")
		if opts.labels() {
			sb.WriteString(audio.EstimateSpeaker(opts.Stereo, seg.T0, seg.T1, false))
		}
		sb.WriteString(seg.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func vtt(res *backend.Result, opts Options) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for _, seg := range res.Segments {
		sb.WriteString(Timestamp(seg.T0, false) + " --> " + Timestamp(seg.T1, false) + "\n")
		if opts.labels() {
			sb.WriteString("<v Speaker" + audio.EstimateSpeaker(opts.Stereo, seg.T0, seg.T1, true) + ">")
		}
		sb.WriteString(seg.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Field order is lexical so the output matches what clients already parse.
type textBody struct {
	Text string `json:"text"`
}

type verboseBody struct {
	Segments []verboseSegment `json:"segments,omitempty"`
	Text     string           `json:"text"`
}

type verboseSegment struct {
	End    *float64      `json:"end,omitempty"`
	ID     int           `json:"id"`
	Start  *float64      `json:"start,omitempty"`
	Text   string        `json:"text"`
	Tokens []int         `json:"tokens,omitempty"`
	Words  []verboseWord `json:"words,omitempty"`
}

type verboseWord struct {
	End         *float64 `json:"end,omitempty"`
	Probability float32  `json:"probability"`
	Start       *float64 `json:"start,omitempty"`
	Word        string   `json:"word"`
}

func seconds(t int64) *float64 {
	s := float64(t) * 0.01
	return &s
}

func verboseJSON(res *backend.Result, opts Options) (string, error) {
	body := verboseBody{Text: plain(res, opts)}

	for i, seg := range res.Segments {
		vs := verboseSegment{ID: i, Text: seg.Text}
		if !opts.NoTimestamps {
			vs.Start = seconds(seg.T0)
			vs.End = seconds(seg.T1)
		}

		for _, tok := range seg.Tokens {
			// Special tokens (id >= EOT) never reach the output.
			if res.EOT > 0 && tok.ID >= res.EOT {
				continue
			}

			vs.Tokens = append(vs.Tokens, tok.ID)
			w := verboseWord{Word: tok.Text, Probability: tok.P}
			if !opts.NoTimestamps {
				w.Start = seconds(tok.T0)
				w.End = seconds(tok.T1)
			}
			vs.Words = append(vs.Words, w)
		}

		body.Segments = append(body.Segments, vs)
	}

	return encode(body)
}

func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("render: encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
