package audio

// DefaultMaxBufferBytes caps one utterance: 15 s of 48 kHz stereo PCM16
// with headroom, far above any compressed recording of the same length.
const DefaultMaxBufferBytes = 8 << 20

// Buffer accumulates the chunks of one utterance in arrival order.
// It is not safe for concurrent use.
type Buffer struct {
	chunks   [][]byte
	size     int
	maxBytes int
}

// NewBuffer returns a Buffer that refuses chunks once maxBytes would be
// exceeded. A non-positive maxBytes selects [DefaultMaxBufferBytes].
func NewBuffer(maxBytes int) *Buffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &Buffer{maxBytes: maxBytes}
}

// Append copies chunk into the buffer. It returns false, leaving the buffer
// unchanged, if the chunk would push the total over the cap.
func (b *Buffer) Append(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	if b.size+len(chunk) > b.maxBytes {
		return false
	}
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	b.size += len(chunk)
	return true
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.size }

// Chunks returns the number of buffered chunks.
func (b *Buffer) Chunks() int { return len(b.chunks) }

// Bytes returns the buffered chunks concatenated in order.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset discards all buffered data.
func (b *Buffer) Reset() {
	b.chunks = nil
	b.size = 0
}
