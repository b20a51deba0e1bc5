// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callsession

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callbridge/internal/audio"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Start json.RawMessage `json:"start,omitempty"`
	Media json.RawMessage `json:"media,omitempty"`
}

type startPayload struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type mediaInPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

// inboundTracks are the media.track values the carrier uses for the
// caller's side of the call; any other track (e.g. an outbound echo) is
// not audio we should feed into the agent/STT pipeline.
var inboundTracks = map[string]bool{
	"inbound":       true,
	"inbound_track": true,
	"":              true, // carriers that omit track default to inbound-only streams
}

// AttachMediaSocket registers the carrier's bidirectional media websocket
// and runs its read loop until the carrier closes it or the session ends.
// The call manager calls this once the carrier opens the socket the
// connect directive pointed it at.
func (s *CallSession) AttachMediaSocket(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	s.mediaConn = conn
	s.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.markHungUp()
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warnw("unparsable media frame", "error", err.Error())
			continue
		}

		switch frame.Event {
		case "start":
			var start startPayload
			if err := json.Unmarshal(frame.Start, &start); err == nil {
				s.mu.Lock()
				s.mediaStreamID = start.StreamSid
				s.streamReady = true
				s.mu.Unlock()
			}
			s.markMediaReady()

		case "media":
			var media mediaInPayload
			if err := json.Unmarshal(frame.Media, &media); err != nil {
				continue
			}
			if !inboundTracks[media.Track] {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(media.Payload)
			if err != nil || len(mulaw) == 0 {
				continue
			}
			s.handleInboundAudio(ctx, mulaw)

		case "stop":
			s.markHungUp()
			return

		default:
			s.logger.Debugw("unrecognized media frame", "event", frame.Event)
		}
	}
}

// handleInboundAudio routes one 160-byte (20ms) mu-law frame from the
// carrier to the active backend.
func (s *CallSession) handleInboundAudio(ctx context.Context, mulawFrame []byte) {
	switch s.mode {
	case ModeUnified:
		if s.agent == nil {
			return
		}
		pcm8k := audio.MuLawDecode(mulawFrame)
		pcm16k := audio.Upsample8kTo16k(pcm8k)
		if err := s.agent.SendAudio(audio.Int16ToPCM16LE(pcm16k)); err != nil {
			s.logger.Warnw("send audio to speech agent failed", "error", err.Error())
		}
	case ModeSplit:
		if s.sttPipeline == nil {
			return
		}
		s.sttPipeline.PushFrame(ctx, mulawFrame)
	}
}
