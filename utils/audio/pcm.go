package audio

import (
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts float samples in [-1, 1] to signed 16-bit samples.
// Out of range input is clamped. Negative values scale by 0x8000 and positive
// by 0x7FFF so both extremes are reachable.
func FloatToPCM16(dst []int16, src []float32) []int16 {
	if cap(dst) < len(src) {
		dst = make([]int16, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		case math.IsNaN(float64(s)):
			s = 0
		}
		if s < 0 {
			dst[i] = int16(s * 0x8000)
		} else {
			dst[i] = int16(s * 0x7FFF)
		}
	}
	return dst
}

// PCM16ToFloat converts 16-bit samples to floats by dividing by 32768.
func PCM16ToFloat(dst []float32, src []int16) []float32 {
	if cap(dst) < len(src) {
		dst = make([]float32, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = float32(s) / 32768
	}
	return dst
}

// PCM16ToBytes packs samples as little endian.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 unpacks little endian samples. A trailing odd byte is ignored.
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// MeanAbsAmplitude is the average absolute sample value of a block, 0 for an
// empty block.
func MeanAbsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float64(sum) / float64(len(samples))
}

// DownmixToMono averages interleaved channels.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]int16, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		v := float64(samples[j])*(1-frac) + float64(samples[j+1])*frac
		out[i] = clamp16(v)
	}
	return out
}

func clamp16(v float64) int16 {
	if v > pcmMax {
		return pcmMax
	}
	if v < pcmMin {
		return pcmMin
	}
	return int16(math.Round(v))
}
