// Package audio normalizes input audio into the PCM layout the inference
// engines expect: 16 kHz, 16-bit, decoded to float32 in [-1, 1].
package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate is the sample rate required by the engines.
const SampleRate = 16000

// StdinPath makes Decode read the WAV container from standard input.
const StdinPath = "-"

// Decoder reads 16-bit PCM WAV containers.
type Decoder struct {
	// SampleRate is the only accepted input rate.
	SampleRate int

	// Stdin is read to EOF when the path is StdinPath.
	Stdin io.Reader
}

// NewDecoder returns a Decoder for SampleRate that reads stdin from os.Stdin.
func NewDecoder() *Decoder {
	return &Decoder{SampleRate: SampleRate, Stdin: os.Stdin}
}

// Clip is a validated WAV payload with interleaved 16-bit samples.
type Clip struct {
	Channels   int
	SampleRate int
	data       []int
}

// Frames returns the number of sample frames.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.data) / c.Channels
}

// Seconds returns the clip duration in seconds.
func (c *Clip) Seconds() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Mono returns the clip collapsed to one channel. Stereo frames are the sum
// of both channels scaled by 1/65536.
func (c *Clip) Mono() []float32 {
	n := c.Frames()
	pcm := make([]float32, n)

	if c.Channels == 1 {
		for i := range n {
			pcm[i] = float32(c.data[i]) / 32768.0
		}
		return pcm
	}

	for i := range n {
		pcm[i] = float32(c.data[2*i]+c.data[2*i+1]) / 65536.0
	}
	return pcm
}

// Stereo returns each channel scaled independently by 1/32768.
func (c *Clip) Stereo() ([][]float32, error) {
	if c.Channels != 2 {
		return nil, fmt.Errorf("%w: got %d channel(s)", ErrStereoRequiredForDiarization, c.Channels)
	}

	n := c.Frames()
	left := make([]float32, n)
	right := make([]float32, n)
	for i := range n {
		left[i] = float32(c.data[2*i]) / 32768.0
		right[i] = float32(c.data[2*i+1]) / 32768.0
	}

	return [][]float32{left, right}, nil
}

// Decode reads path and returns mono samples and, when wantStereo is set,
// both channels separately.
func (d *Decoder) Decode(path string, wantStereo bool) ([]float32, [][]float32, error) {
	clip, err := d.load(path, wantStereo)
	if err != nil {
		return nil, nil, err
	}

	mono := clip.Mono()
	if !wantStereo {
		return mono, nil, nil
	}

	stereo, err := clip.Stereo()
	if err != nil {
		return nil, nil, err
	}

	return mono, stereo, nil
}

// Load parses and validates the WAV container at path without converting samples.
func (d *Decoder) Load(path string) (*Clip, error) {
	return d.load(path, false)
}

func (d *Decoder) load(path string, wantStereo bool) (*Clip, error) {
	var src io.ReadSeeker

	if path == StdinPath {
		if d.Stdin == nil {
			return nil, fmt.Errorf("%w: no stdin reader", ErrInvalidWAV)
		}
		data, err := io.ReadAll(d.Stdin)
		if err != nil {
			return nil, fmt.Errorf("%w from stdin: %w", ErrInvalidWAV, err)
		}
		src = bytes.NewReader(data)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w '%s': %w", ErrInvalidWAV, path, err)
		}
		defer f.Close()
		src = f
	}

	return d.parse(path, src, wantStereo)
}

func (d *Decoder) parse(name string, src io.ReadSeeker, wantStereo bool) (*Clip, error) {
	dec := wav.NewDecoder(src)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w '%s'", ErrInvalidWAV, name)
	}

	channels := int(dec.NumChans)
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: '%s' has %d channels", ErrUnsupportedChannelLayout, name, channels)
	}
	if wantStereo && channels != 2 {
		return nil, fmt.Errorf("%w: '%s'", ErrStereoRequiredForDiarization, name)
	}

	rate := d.SampleRate
	if rate == 0 {
		rate = SampleRate
	}
	if int(dec.SampleRate) != rate {
		return nil, fmt.Errorf("%w: '%s' must be %d kHz, got %d Hz", ErrUnsupportedSampleRate, name, rate/1000, dec.SampleRate)
	}

	if dec.BitDepth != 16 || (dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible) {
		return nil, fmt.Errorf("%w: '%s' is %d-bit (format %d)", ErrUnsupportedBitDepth, name, dec.BitDepth, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %w", ErrInvalidWAV, name, err)
	}

	return &Clip{
		Channels:   channels,
		SampleRate: rate,
		data:       buf.Data,
	}, nil
}

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WriteWAV writes interleaved 16-bit samples as a PCM WAV container.
func WriteWAV(w io.WriteSeeker, samples []int, sampleRate, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, channels, wavFormatPCM)

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write WAV samples: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize WAV: %w", err)
	}

	return nil
}

// EncodeWAV writes mono float32 samples as a 16-bit PCM WAV container.
func EncodeWAV(w io.WriteSeeker, pcm []float32, sampleRate int) error {
	samples := make([]int, len(pcm))
	for i, s := range pcm {
		v := int(s * 32768.0)
		samples[i] = max(-32768, min(32767, v))
	}

	return WriteWAV(w, samples, sampleRate, 1)
}
