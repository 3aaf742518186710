package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeader is the canonical 44-byte header of a PCM16 WAVE file.
type wavHeader struct {
	Riff          [4]byte
	RiffSize      uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavHeaderSize = 44

// EncodeWAV wraps raw little-endian PCM16 in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	frame := f.Channels * 2
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      uint32(wavHeaderSize - 8 + len(pcm)),
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * frame),
		BlockAlign:    uint16(frame),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(pcm)
	return buf.Bytes()
}

// ErrNotWAV is returned by [WAVPayload] for input that is not a RIFF/WAVE
// file with a data chunk.
var ErrNotWAV = errors.New("audio: not a WAV file")

// WAVPayload returns the contents of the data chunk of a RIFF/WAVE file,
// skipping any chunks (LIST, fact) that precede it.
func WAVPayload(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}
	for off := 12; off+8 <= len(wav); {
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if string(wav[off:off+4]) == "data" {
			return wav[body:min(body+size, len(wav))], nil
		}
		// Chunk bodies are padded to an even length.
		off = body + size + size&1
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
