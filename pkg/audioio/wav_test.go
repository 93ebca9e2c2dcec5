package audioio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data := EncodeWAV(samples, 16000, 1)

	if len(data) != 44+len(samples)*2 {
		t.Fatalf("wav length = %d, want %d", len(data), 44+len(samples)*2)
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(data[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:]); got != 16 {
		t.Errorf("bit depth = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:]); got != uint32(len(samples)*2) {
		t.Errorf("data size = %d, want %d", got, len(samples)*2)
	}
	if got := binary.LittleEndian.Uint32(data[28:]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 12345, -12345, 32767, -32768}
	data := EncodeWAV(samples, 16000, 1)

	decoded, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 16000 || channels != 1 {
		t.Errorf("got rate=%d channels=%d", rate, channels)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestFloat32WAVRoundTripWithinQuantizationError(t *testing.T) {
	// A cycle of a 440Hz tone at 16kHz, plus edge values.
	input := make([]float32, 160)
	for i := range input {
		input[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	input = append(input, 0, 1, -1)

	data := EncodeFloat32WAV(input, 16000, 1)

	decoded, _, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if len(decoded) != len(input) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(input))
	}

	const quantError = 1.0 / 32768
	for i, want := range input {
		got := float64(decoded[i]) / 32767
		if math.Abs(got-float64(want)) > quantError {
			t.Errorf("sample %d: got %f, want %f (±%f)", i, got, want, quantError)
		}
	}
}

func TestEncodeFloat32WAVClampsOutOfRange(t *testing.T) {
	data := EncodeFloat32WAV([]float32{2.5, -3.0}, 16000, 1)

	decoded, _, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if decoded[0] != 32767 {
		t.Errorf("over-range sample = %d, want 32767", decoded[0])
	}
	if decoded[1] != -32767 {
		t.Errorf("under-range sample = %d, want -32767", decoded[1])
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"wrong magic", make([]byte, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
