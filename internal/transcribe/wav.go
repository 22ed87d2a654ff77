/*
Copyright (c) 2025 VoxScribe Labs

Licensed under the AGPLv3 License.
This file is part of the voxscribe-hub.
*/

package transcribe

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decodeWAV parses a RIFF/WAVE file into float32 mono samples. Supports
// 16-bit PCM and 32-bit IEEE float; multi-channel audio is downmixed by
// averaging. Returns the samples and the sample rate.
func decodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV file")
	}

	var (
		audioFormat   uint16
		numChannels   uint16
		sampleRate    uint32
		bitsPerSample uint16
		haveFormat    bool
	)

	// Walk the chunks; fmt must precede data.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		chunkStart := offset + 8
		if chunkStart+chunkSize > len(data) {
			chunkSize = len(data) - chunkStart
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("truncated fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(data[chunkStart : chunkStart+2])
			numChannels = binary.LittleEndian.Uint16(data[chunkStart+2 : chunkStart+4])
			sampleRate = binary.LittleEndian.Uint32(data[chunkStart+4 : chunkStart+8])
			bitsPerSample = binary.LittleEndian.Uint16(data[chunkStart+14 : chunkStart+16])
			haveFormat = true

		case "data":
			if !haveFormat {
				return nil, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			samples, err := decodeSamples(data[chunkStart:chunkStart+chunkSize], audioFormat, numChannels, bitsPerSample)
			if err != nil {
				return nil, 0, err
			}
			return samples, int(sampleRate), nil
		}

		// Chunks are word aligned.
		offset = chunkStart + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	return nil, 0, fmt.Errorf("no data chunk found")
}

// decodeSamples converts raw sample bytes to float32 mono
func decodeSamples(raw []byte, audioFormat, numChannels, bitsPerSample uint16) ([]float32, error) {
	if numChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}

	var perSample int
	switch {
	case audioFormat == 1 && bitsPerSample == 16: // PCM16
		perSample = 2
	case audioFormat == 3 && bitsPerSample == 32: // IEEE float
		perSample = 4
	default:
		return nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", audioFormat, bitsPerSample)
	}

	frameSize := perSample * int(numChannels)
	frames := len(raw) / frameSize
	samples := make([]float32, frames)

	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < int(numChannels); ch++ {
			pos := i*frameSize + ch*perSample
			if perSample == 2 {
				v := int16(binary.LittleEndian.Uint16(raw[pos : pos+2]))
				sum += float32(v) / 32768.0
			} else {
				bits := binary.LittleEndian.Uint32(raw[pos : pos+4])
				sum += math.Float32frombits(bits)
			}
		}
		samples[i] = sum / float32(numChannels)
	}

	return samples, nil
}
