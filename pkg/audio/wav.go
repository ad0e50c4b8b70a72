package audio

import (
	"bytes"
	"encoding/binary"
)

// wavHeaderSize is the length of a canonical PCM RIFF header.
const wavHeaderSize = 44

// EncodeWAV wraps little-endian int16 PCM in a canonical RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	byteRate := f.SampleRate * ch * BytesPerSample
	blockAlign := ch * BytesPerSample
	dataLen := len(pcm)

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(ch))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(BytesPerSample*8))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}
