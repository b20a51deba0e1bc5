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
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	frameInterval      = 20 * time.Millisecond
	audioQueueCapacity = 100 // ~2s of 20ms frames
	controlQueueCap    = 8
)

// writer is the single outbound-frame iterator for a session's carrier
// media socket: control frames (e.g. "clear" for barge-in) have strict
// priority over paced audio frames, mirroring the speech agent's own
// control/audio priority discipline.
type writer struct {
	session *CallSession

	controlCh chan []byte
	audioCh   chan []byte

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newWriter(s *CallSession) *writer {
	return &writer{
		session:   s,
		controlCh: make(chan []byte, controlQueueCap),
		audioCh:   make(chan []byte, audioQueueCapacity),
		stopCh:    make(chan struct{}),
	}
}

func (w *writer) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *writer) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *writer) run(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case frame := <-w.controlCh:
			w.writeRaw(frame)
		case <-ticker.C:
			// Control frames that are ready on this tick go out before audio.
			for drained := false; !drained; {
				select {
				case frame := <-w.controlCh:
					w.writeRaw(frame)
				default:
					drained = true
				}
			}
			select {
			case frame := <-w.audioCh:
				w.writeMediaFrame(frame)
			default:
			}
		}
	}
}

// enqueueControl enqueues an out-of-band directive frame (e.g. "clear").
// Control frames are never dropped; the queue is small and drained first.
func (w *writer) enqueueControl(raw []byte) {
	select {
	case w.controlCh <- raw:
	case <-w.stopCh:
	}
}

// enqueueAudio enqueues one 160-byte mu-law frame for paced delivery.
// When the queue is full the oldest queued frame is dropped to make room
// rather than blocking the TTS/agent callback goroutine — the carrier's
// real-time playhead means a stale frame is worse than a dropped one.
func (w *writer) enqueueAudio(frame []byte) {
	for {
		select {
		case w.audioCh <- frame:
			return
		default:
		}
		select {
		case <-w.audioCh:
			w.session.logger.Warnw("outbound audio queue full, dropping oldest frame")
		default:
		}
	}
}

// drainAudio discards every frame currently queued, used on barge-in so
// stale agent audio does not keep playing after a clear directive.
func (w *writer) drainAudio() {
	for {
		select {
		case <-w.audioCh:
		default:
			return
		}
	}
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type mediaFrameOut struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type clearFrameOut struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

func (w *writer) writeMediaFrame(mulawFrame []byte) {
	s := w.session
	s.mu.RLock()
	streamSid := s.mediaStreamID
	s.mu.RUnlock()

	data, err := json.Marshal(mediaFrameOut{
		Event:     "media",
		StreamSid: streamSid,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulawFrame)},
	})
	if err != nil {
		s.logger.Errorf("marshal outbound media frame: %v", err)
		return
	}
	w.writeRaw(data)
}

// enqueueClear asks the carrier to flush its playback buffer, used on
// barge-in.
func (w *writer) enqueueClear() {
	s := w.session
	s.mu.RLock()
	streamSid := s.mediaStreamID
	s.mu.RUnlock()

	data, err := json.Marshal(clearFrameOut{Event: "clear", StreamSid: streamSid})
	if err != nil {
		return
	}
	w.enqueueControl(data)
}

func (w *writer) writeRaw(data []byte) {
	s := w.session
	s.mu.RLock()
	conn := s.mediaConn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warnw("media socket write failed", "error", err.Error())
	}
}
