/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package transcribe

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE file for decoder tests
func buildWAV(audioFormat, numChannels, bitsPerSample uint16, sampleRate uint32, sampleData []byte) []byte {
	var buf bytes.Buffer

	byteRate := sampleRate * uint32(numChannels) * uint32(bitsPerSample/8)
	blockAlign := numChannels * bitsPerSample / 8

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(sampleData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, audioFormat)
	_ = binary.Write(&buf, binary.LittleEndian, numChannels)
	_ = binary.Write(&buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, bitsPerSample)

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(sampleData)))
	buf.Write(sampleData)

	return buf.Bytes()
}

func TestDecodeWAVPCM16Mono(t *testing.T) {
	var sampleData bytes.Buffer
	for _, v := range []int16{0, 16384, -16384, 32767} {
		_ = binary.Write(&sampleData, binary.LittleEndian, v)
	}

	samples, rate, err := decodeWAV(buildWAV(1, 1, 16, 16000, sampleData.Bytes()))
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if len(samples) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("Expected sample 0 to be 0, got %f", samples[0])
	}
	if math.Abs(float64(samples[1]-0.5)) > 0.001 {
		t.Errorf("Expected sample 1 near 0.5, got %f", samples[1])
	}
	if math.Abs(float64(samples[2]+0.5)) > 0.001 {
		t.Errorf("Expected sample 2 near -0.5, got %f", samples[2])
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	var sampleData bytes.Buffer
	// One frame: left 16384, right -16384, averages to 0.
	_ = binary.Write(&sampleData, binary.LittleEndian, int16(16384))
	_ = binary.Write(&sampleData, binary.LittleEndian, int16(-16384))

	samples, _, err := decodeWAV(buildWAV(1, 2, 16, 44100, sampleData.Bytes()))
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("Expected 1 downmixed sample, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("Expected downmix to 0, got %f", samples[0])
	}
}

func TestDecodeWAVFloat32(t *testing.T) {
	var sampleData bytes.Buffer
	for _, v := range []float32{0.25, -0.75} {
		_ = binary.Write(&sampleData, binary.LittleEndian, v)
	}

	samples, rate, err := decodeWAV(buildWAV(3, 1, 32, 48000, sampleData.Bytes()))
	if err != nil {
		t.Fatalf("decodeWAV failed: %v", err)
	}
	if rate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", rate)
	}
	if len(samples) != 2 || samples[0] != 0.25 || samples[1] != -0.75 {
		t.Errorf("Unexpected samples: %v", samples)
	}
}

func TestDecodeWAVRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", bytes.Repeat([]byte("x"), 64)},
		{"unsupported encoding", buildWAV(1, 1, 8, 8000, make([]byte, 8))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeWAV(tt.data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}
