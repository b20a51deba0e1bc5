// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audio

import (
	"bytes"
	"encoding/binary"
)

const (
	wavBytesPerSample = 2
	wavBitsPerSample  = 16
	wavPCMFormat      = 1
)

// WrapWAV8kMono wraps 16-bit linear PCM, mono, 8 kHz samples in a minimal
// RIFF/WAVE container (fmt chunk size 16, PCM=1, channels=1, 8000 Hz,
// byteRate=16000, blockAlign=2, 16-bit), the shape the split-mode STT
// upload requires.
func WrapWAV8kMono(pcm []byte) []byte {
	const sampleRate = 8000
	const channels = 1
	byteRate := sampleRate * channels * wavBytesPerSample

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*wavBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
