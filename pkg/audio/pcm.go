// Package audio provides PCM utilities for the realtime session engine:
// linear resampling, base64 transport encoding, WAV container wrapping,
// duration accounting, and streaming chunk assembly.
//
// All functions operate on 16-bit little-endian mono PCM unless stated
// otherwise.
package audio

import (
	"encoding/base64"
	"encoding/binary"
)

const (
	// InputSampleRate is the upstream ingest rate (16kHz 16-bit mono).
	InputSampleRate = 16000
	// OutputSampleRate is the upstream synthesis rate (24kHz 16-bit mono).
	OutputSampleRate = 24000

	bytesPerSample = 2
)

// Resample converts pcm between two sample rates using linear
// interpolation. When fromRate == toRate the input is returned
// unchanged. A trailing odd byte is ignored.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}

	sampleCount := len(pcm) / bytesPerSample
	if sampleCount == 0 {
		return nil
	}

	ratio := float64(toRate) / float64(fromRate)
	outCount := int(float64(sampleCount) * ratio)
	out := make([]byte, outCount*bytesPerSample)

	for i := 0; i < outCount; i++ {
		srcIdx := float64(i) / ratio
		idx := int(srcIdx)
		frac := srcIdx - float64(idx)

		var value float64
		switch {
		case idx+1 < sampleCount:
			s0 := float64(sampleAt(pcm, idx))
			s1 := float64(sampleAt(pcm, idx + 1))
			value = s0*(1-frac) + s1*frac
		case idx < sampleCount:
			value = float64(sampleAt(pcm, idx))
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(value)))
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[idx*bytesPerSample:]))
}

// EncodeBase64 encodes pcm for JSON transport.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 decodes base64 transport audio back to raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// DurationMS returns the playback duration of pcm in milliseconds at
// the given sample rate.
func DurationMS(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / bytesPerSample
	return samples * 1000 / sampleRate
}

// Silence returns durationMS of silent PCM at the given sample rate.
func Silence(durationMS, sampleRate int) []byte {
	samples := sampleRate * durationMS / 1000
	return make([]byte, samples*bytesPerSample)
}
