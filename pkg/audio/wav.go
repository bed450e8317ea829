package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMToWAV wraps raw PCM audio data with a WAV header.
//
// Common upstream output format: sampleRate=24000, bitsPerSample=16,
// channels=1.
func PCMToWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	// WAV header is 44 bytes
	header := make([]byte, 44)

	// RIFF chunk descriptor
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen)) // File size - 8
	copy(header[8:12], "WAVE")

	// fmt sub-chunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)                    // Sub-chunk size (16 for PCM)
	binary.LittleEndian.PutUint16(header[20:22], 1)                     // Audio format (1 = PCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))      // Number of channels
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))    // Sample rate
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))      // Byte rate
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))    // Block align
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample)) // Bits per sample

	// data sub-chunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen)) // Data size

	return append(header, pcm...)
}

// PCMToWAVDefault wraps PCM data with a WAV header using the upstream
// output format. Equivalent to PCMToWAV(pcm, 24000, 16, 1).
func PCMToWAVDefault(pcm []byte) []byte {
	return PCMToWAV(pcm, OutputSampleRate, 16, 1)
}

// WAVToPCM strips a WAV container and returns the raw PCM data along
// with the format described by the header.
func WAVToPCM(wav []byte) (pcm []byte, sampleRate, channels, bitsPerSample int, err error) {
	if len(wav) < 44 {
		return nil, 0, 0, 0, fmt.Errorf("wav data too short (%d bytes)", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, 0, 0, fmt.Errorf("not a RIFF/WAVE container")
	}

	// Walk sub-chunks; fmt and data are not guaranteed to be adjacent.
	var haveFmt bool
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, 0, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			pcm = append([]byte(nil), wav[body:body+size]...)
			return pcm, sampleRate, channels, bitsPerSample, nil
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			size++
		}
		offset = body + size
	}
	return nil, 0, 0, 0, fmt.Errorf("no data chunk found")
}
