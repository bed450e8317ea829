package audio

import "sync"

// Buffer accumulates PCM audio delivered by the receive loop until a
// consumer drains it. Safe for concurrent use.
type Buffer struct {
	mu         sync.Mutex
	data       []byte
	sampleRate int
}

// NewBuffer creates a buffer for PCM at the given sample rate.
func NewBuffer(sampleRate int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &Buffer{sampleRate: sampleRate}
}

// SampleRate returns the buffer's sample rate.
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// Write appends audio data.
func (b *Buffer) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, data...)
	b.mu.Unlock()
}

// ReadAll drains and returns everything buffered so far.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data
	b.data = nil
	return data
}

// Clear discards buffered audio.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}

// Len returns the buffered byte count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMS returns the buffered playback duration in milliseconds.
func (b *Buffer) DurationMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DurationMS(b.data, b.sampleRate)
}

// WAV returns a snapshot of the buffered audio as a mono 16-bit WAV.
// The buffer is left intact.
func (b *Buffer) WAV() []byte {
	b.mu.Lock()
	data := append([]byte(nil), b.data...)
	b.mu.Unlock()
	return PCMToWAV(data, b.sampleRate, 16, 1)
}
