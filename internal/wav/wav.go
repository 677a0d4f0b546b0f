// Package wav encodes raw PCM into the canonical 44-byte RIFF/WAVE container.
//
// The byte layout is fixed: exported files are read by existing consumers
// that expect exactly this header and nothing else (no LIST/fact chunks).
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// HeaderSize is the size of the canonical header in bytes.
const HeaderSize = 44

// Defaults used by the capture pipeline.
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// Header mirrors the on-disk header field by field.
// binary.Write serializes it in declaration order with no padding.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // DataSize + 36
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	DataSize      uint32
}

// NewHeader builds the header for dataSize bytes of PCM.
func NewHeader(dataSize, sampleRate, channels, bitsPerSample int) Header {
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(dataSize + 36),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    uint16(channels * bitsPerSample / 8),
		BitsPerSample: uint16(bitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// Encode wraps pcm in a WAV container. Output is deterministic: the same
// input always yields byte-identical output.
func Encode(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	h := NewHeader(len(pcm), sampleRate, channels, bitsPerSample)

	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	buf.Write(pcm)

	return buf.Bytes()
}

// EncodeMono16 is Encode with the capture format (mono, 16-bit).
func EncodeMono16(pcm []byte, sampleRate int) []byte {
	return Encode(pcm, sampleRate, DefaultChannels, DefaultBitsPerSample)
}

// ParseHeader decodes and validates the canonical header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("wav data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("read wav header: %w", err)
	}

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return h, fmt.Errorf("invalid wav: missing RIFF header")
	case string(h.Format[:]) != "WAVE":
		return h, fmt.Errorf("invalid wav: missing WAVE format")
	case string(h.Subchunk1ID[:]) != "fmt ":
		return h, fmt.Errorf("invalid wav: missing fmt chunk")
	case string(h.Subchunk2ID[:]) != "data":
		return h, fmt.Errorf("invalid wav: missing data chunk")
	case h.AudioFormat != 1:
		return h, fmt.Errorf("unsupported audio format %d (only PCM)", h.AudioFormat)
	}

	return h, nil
}

// Data returns the PCM payload following the header.
func Data(data []byte) ([]byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(h.DataSize)
	if end > len(data) {
		return nil, fmt.Errorf("wav data truncated: header says %d bytes, have %d", h.DataSize, len(data)-HeaderSize)
	}
	return data[HeaderSize:end], nil
}

// WriteFile encodes pcm as mono 16-bit WAV and writes it to path,
// creating parent directories as needed.
func WriteFile(path string, pcm []byte, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create wav directory: %w", err)
	}
	if err := os.WriteFile(path, EncodeMono16(pcm, sampleRate), 0o644); err != nil {
		return fmt.Errorf("write wav file: %w", err)
	}
	return nil
}
