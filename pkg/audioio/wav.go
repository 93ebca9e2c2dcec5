package audioio

import (
	"encoding/binary"
	"fmt"
)

// WAV container constants. The backend expects mono 16kHz 16-bit PCM.
const (
	wavHeaderSize = 44
	wavBitDepth   = 16
)

// EncodeWAV wraps PCM16 samples in a standard uncompressed WAV container:
// a 44-byte RIFF header followed by little-endian samples.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, wavHeaderSize+dataSize)

	byteRate := sampleRate * channels * wavBitDepth / 8
	blockAlign := channels * wavBitDepth / 8

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataSize))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], wavBitDepth)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataSize))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}

	return buf
}

// EncodeFloat32WAV quantizes float32 samples to PCM16 and wraps them in a
// WAV container. Samples are clamped to [-1, 1] before quantization.
func EncodeFloat32WAV(samples []float32, sampleRate, channels int) []byte {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}
	return EncodeWAV(pcm, sampleRate, channels)
}

// DecodeWAV extracts PCM16 samples from a WAV container.
// It validates the RIFF/WAVE magic and the PCM format tag.
func DecodeWAV(data []byte) (samples []int16, sampleRate, channels int, err error) {
	if len(data) < wavHeaderSize {
		return nil, 0, 0, fmt.Errorf("audioio: wav too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("audioio: not a wav container")
	}
	if format := binary.LittleEndian.Uint16(data[20:]); format != 1 {
		return nil, 0, 0, fmt.Errorf("audioio: unsupported wav format %d, want PCM", format)
	}
	if bits := binary.LittleEndian.Uint16(data[34:]); bits != wavBitDepth {
		return nil, 0, 0, fmt.Errorf("audioio: unsupported bit depth %d", bits)
	}

	channels = int(binary.LittleEndian.Uint16(data[22:]))
	sampleRate = int(binary.LittleEndian.Uint32(data[24:]))

	dataSize := int(binary.LittleEndian.Uint32(data[40:]))
	if dataSize > len(data)-wavHeaderSize {
		dataSize = len(data) - wavHeaderSize
	}

	samples = make([]int16, dataSize/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[wavHeaderSize+i*2:]))
	}

	return samples, sampleRate, channels, nil
}
