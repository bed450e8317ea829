package audio

// Chunker slices a growing byte stream into fixed-size chunks for
// streaming upload. All emitted chunks except the final Flush are
// exactly ChunkBytes long.
type Chunker struct {
	chunkBytes int
	buf        []byte
}

// NewChunker creates a chunker sized for chunkMS of 16-bit mono PCM at
// sampleRate.
func NewChunker(chunkMS, sampleRate int) *Chunker {
	return NewChunkerBytes(sampleRate * chunkMS / 1000 * bytesPerSample)
}

// NewChunkerBytes creates a chunker with an explicit chunk size.
func NewChunkerBytes(chunkBytes int) *Chunker {
	if chunkBytes <= 0 {
		chunkBytes = bytesPerSample
	}
	return &Chunker{chunkBytes: chunkBytes}
}

// ChunkBytes returns the configured chunk size.
func (c *Chunker) ChunkBytes() int {
	return c.chunkBytes
}

// Add appends data and returns all complete chunks now available.
func (c *Chunker) Add(data []byte) [][]byte {
	c.buf = append(c.buf, data...)

	var chunks [][]byte
	for len(c.buf) >= c.chunkBytes {
		chunk := append([]byte(nil), c.buf[:c.chunkBytes]...)
		c.buf = c.buf[c.chunkBytes:]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns any buffered remainder as the final partial chunk, or
// nil when nothing is pending. The remainder is returned exactly once.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	final := c.buf
	c.buf = nil
	return final
}
