// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio implements the Codec component: conversion between
// the carrier's narrowband µ-law wire format and the speech model's
// wideband PCM formats. Every function here is pure — no I/O, no shared
// state — so it is trivially safe to call from any goroutine. µ-law
// codec work is delegated to zaf/g711, the same library the rest of this
// codebase's telephony stack leans on for G.711; resampling between the
// carrier's 8kHz rate and the model's 16/24kHz rates is done here with
// two fixed integer ratios: x2 upsampling by averaging neighbours and /3
// downsampling by a 3-tap average.
package audio

import (
	g711 "github.com/zaf/g711"
)

// MuLawDecode decodes a buffer of µ-law bytes into little-endian 16-bit
// linear PCM.
func MuLawDecode(mulaw []byte) []int16 {
	return PCM16LEToInt16(g711.DecodeUlaw(mulaw))
}

// MuLawEncode encodes a buffer of 16-bit linear PCM samples into µ-law.
func MuLawEncode(pcm []int16) []byte {
	return g711.EncodeUlaw(Int16ToPCM16LE(pcm))
}

// mulawDecode decodes a single µ-law byte into one linear PCM sample.
func mulawDecode(b byte) int16 { return MuLawDecode([]byte{b})[0] }

// mulawEncode encodes a single linear PCM sample into one µ-law byte.
func mulawEncode(s int16) byte { return MuLawEncode([]int16{s})[0] }

// MuLawDecodeBytes decodes a µ-law byte buffer directly into PCM16LE
// bytes, the byte layout the WAV envelope and the speech agent take.
func MuLawDecodeBytes(mulaw []byte) []byte {
	return g711.DecodeUlaw(mulaw)
}

// MuLawEncodeBytes encodes PCM16LE bytes directly into µ-law.
func MuLawEncodeBytes(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}

// Upsample8kTo16k doubles the sample rate of a 16-bit linear PCM stream:
// each input sample is followed by the mean of it and its successor (the
// last sample is repeated).
func Upsample8kTo16k(pcm []int16) []int16 {
	if len(pcm) == 0 {
		return nil
	}
	out := make([]int16, 2*len(pcm))
	for i, s := range pcm {
		next := s
		if i+1 < len(pcm) {
			next = pcm[i+1]
		}
		out[2*i] = s
		out[2*i+1] = int16((int32(s) + int32(next)) / 2)
	}
	return out
}

// Downsample24kTo8k reduces a 24kHz 16-bit linear PCM stream to 8kHz by
// averaging non-overlapping groups of 3 samples; a final partial group is
// padded by repeating the last sample.
func Downsample24kTo8k(pcm []int16) []int16 {
	if len(pcm) == 0 {
		return nil
	}
	out := make([]int16, (len(pcm)+2)/3)
	last := int32(pcm[len(pcm)-1])
	for i := range out {
		var sum int32
		for k := 0; k < 3; k++ {
			if j := 3*i + k; j < len(pcm) {
				sum += int32(pcm[j])
			} else {
				sum += last
			}
		}
		out[i] = int16(sum / 3)
	}
	return out
}

// Downsample24kTo8kLinearInterp is the split-mode name for the same 3-tap
// average as Downsample24kTo8k, with no additional filtering. The TTS
// jitter buffer calls Downsample24kTo8k directly.
func Downsample24kTo8kLinearInterp(pcm []int16) []int16 {
	return Downsample24kTo8k(pcm)
}

// PCM16LEToInt16 and Int16ToPCM16LE convert between the byte-oriented wire
// shape callers hold buffers in and the []int16 shape the resample
// functions operate on.

func PCM16LEToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func Int16ToPCM16LE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
