// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tts implements the streaming text-to-speech half of the
// split-brain pipeline: a websocket client that turns text into PCM
// 24 kHz chunks, plus the jitter buffer that turns those chunks into
// evenly-paced 20ms µ-law frames for the carrier.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callbridge/internal/audio"
	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/logging"
)

// frameBytes is one 20ms µ-law frame at 8kHz (160 bytes).
const frameBytes = 160

// Client is a streaming TTS websocket connection: text in, PCM24k chunks
// out via onAudio, modeled on the teacher's cartesia websocket transformer.
type Client struct {
	logger  logging.Logger
	wsURL   string
	voiceID string

	mu   sync.Mutex
	conn *websocket.Conn

	onAudio    func(contextID string, pcm24k []byte)
	onComplete func(contextID string)
}

type ttsRequestMessage struct {
	ContextID  string `json:"context_id"`
	Transcript string `json:"transcript"`
	Continue   bool   `json:"continue"`
	Voice      string `json:"voice_id,omitempty"`
}

type ttsResponseMessage struct {
	ContextID string `json:"context_id"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
}

// Option configures a Client.
type Option func(*Client)

func WithVoiceID(id string) Option { return func(c *Client) { c.voiceID = id } }
func WithOnAudio(f func(contextID string, pcm24k []byte)) Option {
	return func(c *Client) { c.onAudio = f }
}
func WithOnComplete(f func(contextID string)) Option {
	return func(c *Client) { c.onComplete = f }
}

// New builds a Client against the given streaming TTS websocket URL.
func New(logger logging.Logger, wsURL string, opts ...Option) *Client {
	c := &Client{logger: logger, wsURL: wsURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the stream and starts the background response reader.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return callerr.NewAgentError(callerr.AgentConnectFailed, err)
	}
	c.conn = conn
	go c.readLoop(ctx)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var resp ttsResponseMessage
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warnw("unparsable tts response", "error", err.Error())
			continue
		}
		if resp.Done {
			if c.onComplete != nil {
				c.onComplete(resp.ContextID)
			}
			continue
		}
		if resp.Data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			c.logger.Warnw("undecodable tts audio payload", "error", err.Error())
			continue
		}
		if c.onAudio != nil {
			c.onAudio(resp.ContextID, decoded)
		}
	}
}

// Speak streams one piece of text under contextID. isComplete marks the
// final chunk of that context's utterance.
func (c *Client) Speak(contextID, text string, isComplete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("tts: websocket connection is not initialized")
	}
	msg := ttsRequestMessage{
		ContextID:  contextID,
		Transcript: text,
		Continue:   !isComplete,
		Voice:      c.voiceID,
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// JitterBuffer accumulates µ-law output and releases it in fixed 160-byte
// (20ms) frames, holding back an initial 100ms of audio before playback
// to smooth burst delivery from the TTS stream.
type JitterBuffer struct {
	mu            sync.Mutex
	buf           []byte
	primed        bool
	primeBytes    int
}

// NewJitterBuffer builds a JitterBuffer requiring primeMS of buffered
// audio (default 100ms = 800 bytes of 8kHz µ-law) before the first frame
// is released.
func NewJitterBuffer(primeMS int) *JitterBuffer {
	if primeMS <= 0 {
		primeMS = 100
	}
	return &JitterBuffer{primeBytes: primeMS * 8} // 8 bytes/ms at 8kHz mu-law
}

// PushPCM24k resamples and µ-law-encodes a 24kHz PCM chunk and appends it
// to the buffer.
func (j *JitterBuffer) PushPCM24k(pcm24k []byte) {
	samples := audio.PCM16LEToInt16(pcm24k)
	downsampled := audio.Downsample24kTo8k(samples)
	mulaw := audio.MuLawEncode(downsampled)

	j.mu.Lock()
	j.buf = append(j.buf, mulaw...)
	j.mu.Unlock()
}

// PopFrame returns one 160-byte frame once the buffer is primed and has
// at least one full frame available; ok is false otherwise.
func (j *JitterBuffer) PopFrame() (frame []byte, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.primed {
		if len(j.buf) < j.primeBytes {
			return nil, false
		}
		j.primed = true
	}
	if len(j.buf) < frameBytes {
		return nil, false
	}
	frame = append([]byte(nil), j.buf[:frameBytes]...)
	j.buf = j.buf[frameBytes:]
	return frame, true
}

// Flush drains any tail shorter than one full frame, zero-padding it to
// frameBytes, for use at end-of-stream.
func (j *JitterBuffer) Flush() (frame []byte, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.buf) == 0 {
		return nil, false
	}
	frame = make([]byte, frameBytes)
	copy(frame, j.buf)
	j.buf = nil
	j.primed = false
	return frame, true
}
