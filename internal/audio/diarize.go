package audio

import "math"

// EstimateSpeaker labels the segment [t0, t1) (centisecond ticks) with the
// louder channel of a two-channel recording: "0", "1", or "?" when the
// channel energies are within 10% of each other. Unless idOnly is set the
// label is wrapped as "(speaker X)".
func EstimateSpeaker(stereo [][]float32, t0, t1 int64, idOnly bool) string {
	speaker := "?"

	if len(stereo) == 2 && len(stereo[0]) > 0 {
		n := min(len(stereo[0]), len(stereo[1]))
		is0 := timestampToSample(t0, n)
		is1 := timestampToSample(t1, n)

		var energy0, energy1 float64
		for j := is0; j < is1; j++ {
			energy0 += math.Abs(float64(stereo[0][j]))
			energy1 += math.Abs(float64(stereo[1][j]))
		}

		speaker = SpeakerFromEnergy(energy0, energy1)
	}

	if !idOnly {
		return "(speaker " + speaker + ")"
	}

	return speaker
}

// SpeakerFromEnergy applies the 10% dominance rule to precomputed channel energies.
func SpeakerFromEnergy(energy0, energy1 float64) string {
	switch {
	case energy0 > 1.1*energy1:
		return "0"
	case energy1 > 1.1*energy0:
		return "1"
	default:
		return "?"
	}
}

func timestampToSample(t int64, nSamples int) int {
	s := t * SampleRate / 100
	return int(max(0, min(int64(nSamples)-1, s)))
}
