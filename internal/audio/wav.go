package audio

import "encoding/binary"

const (
	// HeaderSize is the length of a canonical PCM RIFF/WAVE header.
	HeaderSize = 44

	// StreamingDataLength is the declared data length written into headers of
	// streamed sessions, where the real length is unknown until the stream ends.
	// Consumers must tolerate a declared length larger than what they receive.
	StreamingDataLength = 100 * 1024 * 1024

	pcmFormatTag = 1
)

// BuildHeader returns the 44-byte RIFF/WAVE header for linear PCM audio with
// the given layout and declared data length. All fields are little-endian.
func BuildHeader(sampleRate uint32, channels, bitDepth uint16, dataLength uint32) []byte {
	byteRate := sampleRate * uint32(channels) * uint32(bitDepth) / 8
	blockAlign := channels * bitDepth / 8

	h := make([]byte, 0, HeaderSize)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, 36+dataLength)
	h = append(h, "WAVE"...)
	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, pcmFormatTag)
	h = binary.LittleEndian.AppendUint16(h, channels)
	h = binary.LittleEndian.AppendUint32(h, sampleRate)
	h = binary.LittleEndian.AppendUint32(h, byteRate)
	h = binary.LittleEndian.AppendUint16(h, blockAlign)
	h = binary.LittleEndian.AppendUint16(h, bitDepth)
	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, dataLength)
	return h
}

// StreamHeader is the header emitted ahead of the first data chunk of every
// streamed session: target format with the streaming sentinel length.
func StreamHeader() []byte {
	return BuildHeader(TargetSampleRate, TargetChannels, TargetBitDepth, StreamingDataLength)
}
