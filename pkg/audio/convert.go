package audio

import (
	"encoding/binary"
	"math"
)

// Convert converts 16-bit PCM from one format to another. Multi-channel input is
// down-mixed to mono before resampling so the interpolation runs on the smaller
// buffer. Only mono and stereo targets are supported; anything else is treated
// as mono.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || len(pcm) == 0 {
		return pcm
	}
	if from.Channels > 1 {
		pcm = DownmixToMono(pcm, from.Channels)
	}
	pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
	if to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// DownmixToMono averages all channels of each interleaved frame into a single
// mono sample. Trailing bytes that do not form a whole frame are dropped.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*frameBytes + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		avg := sum / int32(channels)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(avg)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// RMS returns the root-mean-square energy of 16-bit little-endian PCM. Silence
// is close to 0; normal speech is usually well above 300.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Duration returns the playback length of pcm in milliseconds for format f.
func Duration(pcm []byte, f Format) int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return len(pcm) * 1000 / (f.SampleRate * f.Channels * 2)
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// IntsToBytes converts int samples (as produced by go-audio buffers) of the
// given bit depth to 16-bit little-endian PCM.
func IntsToBytes(samples []int, bitDepth int) []byte {
	b := make([]byte, len(samples)*2)
	shift := bitDepth - 16
	for i, s := range samples {
		var v int32
		switch {
		case bitDepth == 8:
			// 8-bit WAV is unsigned.
			v = int32(s-128) << 8
		case shift > 0:
			v = int32(s >> shift)
		default:
			v = int32(s)
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(clamp16(v)))
	}
	return b
}

// BytesToInts converts 16-bit little-endian PCM to int samples.
func BytesToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
