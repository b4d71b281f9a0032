package pcm

import (
	"bytes"
	"encoding/binary"
)

// wavHeader is the 44-byte RIFF header for mono 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps normalized float32 samples in a mono 16-bit WAV
// container at the given sample rate. An empty sample slice yields a
// valid zero-length WAV file.
func EncodeWAV(samples []float32, rate int) []byte {
	data := Encode(samples)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(data)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(data)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(data)))
	binary.Write(buf, binary.LittleEndian, header)
	buf.Write(data)
	return buf.Bytes()
}
