// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package stt implements the VAD-gated speech-to-text half of the
// split-brain pipeline: accumulate µ-law while a simple energy
// detector classifies speech vs. silence, then POST the completed
// utterance as WAV to a remote STT endpoint.
package stt

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/callbridge/internal/audio"
	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/logging"
)

const (
	// MinSpeechMS is the minimum sustained-energy duration before an
	// utterance is considered to have begun.
	MinSpeechMS = 300
	// DefaultSilenceMS is the default trailing-silence duration that ends
	// an utterance; operator-configurable.
	DefaultSilenceMS = 800

	frameDuration = 20 * time.Millisecond // one µ-law frame is 160 bytes = 20ms @ 8kHz

	// energyThreshold is the mean absolute PCM16 sample magnitude above
	// which a frame counts as speech. Chosen well above typical line-noise
	// floor (~200-400) and well below a raised speaking voice (~3000+).
	energyThreshold = 800
)

// Pipeline accumulates inbound µ-law frames, detects utterance boundaries
// by energy, and posts completed utterances to the STT endpoint.
type Pipeline struct {
	logger     logging.Logger
	httpClient *resty.Client
	endpoint   string
	silenceMS  int

	mu            sync.Mutex
	buffer        []byte // accumulated mu-law for the current utterance
	speaking      bool
	speechFrames  int // consecutive frames at/above threshold
	silenceFrames int
	transcribing  bool

	onTranscript func(text string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithSilenceMS(ms int) Option {
	return func(p *Pipeline) {
		if ms > 0 {
			p.silenceMS = ms
		}
	}
}

func WithOnTranscript(f func(text string)) Option {
	return func(p *Pipeline) { p.onTranscript = f }
}

// New builds a Pipeline that posts WAV bodies to endpoint.
func New(logger logging.Logger, httpClient *resty.Client, endpoint string, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:     logger,
		httpClient: httpClient,
		endpoint:   endpoint,
		silenceMS:  DefaultSilenceMS,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PushFrame feeds one 160-byte (20ms) µ-law frame from the carrier socket.
// On detecting end-of-utterance it posts the accumulated audio in the
// background and invokes onTranscript with the result.
func (p *Pipeline) PushFrame(ctx context.Context, mulawFrame []byte) {
	energy := meanAbsEnergy(mulawFrame)
	speechFrame := energy >= energyThreshold

	p.mu.Lock()
	if speechFrame {
		p.speechFrames++
		p.silenceFrames = 0
		if !p.speaking && p.speechFrames*int(frameDuration/time.Millisecond) >= MinSpeechMS {
			p.speaking = true
		}
	} else {
		p.silenceFrames++
		p.speechFrames = 0
	}

	if p.speaking {
		p.buffer = append(p.buffer, mulawFrame...)
	}

	endOfUtterance := p.speaking && p.silenceFrames*int(frameDuration/time.Millisecond) >= p.silenceMS
	var utterance []byte
	if endOfUtterance {
		utterance = p.buffer
		p.buffer = nil
		p.speaking = false
		p.silenceFrames = 0
	}
	alreadyTranscribing := p.transcribing
	if endOfUtterance && !alreadyTranscribing {
		p.transcribing = true
	}
	p.mu.Unlock()

	if endOfUtterance && !alreadyTranscribing && len(utterance) > 0 {
		go p.transcribe(ctx, utterance)
	}
}

func (p *Pipeline) transcribe(ctx context.Context, mulawUtterance []byte) {
	defer func() {
		p.mu.Lock()
		p.transcribing = false
		p.mu.Unlock()
	}()

	pcm := audio.MuLawDecodeBytes(mulawUtterance)
	wav := audio.WrapWAV8kMono(pcm)

	text, err := p.postWAV(ctx, wav)
	if err != nil {
		p.logger.Warnw("stt post failed", "error", err.Error())
		return
	}
	if text != "" && p.onTranscript != nil {
		p.onTranscript(text)
	}
}

type sttResponse struct {
	Text string `json:"text"`
}

func (p *Pipeline) postWAV(ctx context.Context, wav []byte) (string, error) {
	var out sttResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetBody(wav).
		SetResult(&out).
		Post(p.endpoint)
	if err != nil {
		return "", callerr.NewAgentError(callerr.AgentStreamError, err)
	}
	if resp.IsError() {
		return "", callerr.NewAgentError(callerr.AgentStreamError,
			&httpStatusError{status: resp.StatusCode()})
	}
	return out.Text, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "stt endpoint returned non-2xx status"
}

// meanAbsEnergy decodes a µ-law frame and returns the mean absolute PCM16
// sample magnitude, a cheap proxy for short-term signal energy.
func meanAbsEnergy(mulawFrame []byte) int {
	if len(mulawFrame) == 0 {
		return 0
	}
	pcm := audio.MuLawDecode(mulawFrame)
	var sum int64
	for _, s := range pcm {
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return int(sum / int64(len(pcm)))
}
