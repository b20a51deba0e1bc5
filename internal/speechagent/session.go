// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package speechagent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/logging"
	"github.com/rapidaai/callbridge/internal/tool"
)

// defaults for session-start inference parameters.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9

	drainTimeout = 500 * time.Millisecond
)

// Option configures a Session before Connect.
type Option func(*Session)

func WithSystemPrompt(p string) Option { return func(s *Session) { s.systemPrompt = p } }
func WithVoice(voice string) Option    { return func(s *Session) { s.voice = voice } }
func WithTools(defs []tool.Definition) Option {
	return func(s *Session) { s.tools = defs }
}
func WithInferenceParams(maxTokens int, temperature, topP float64) Option {
	return func(s *Session) {
		s.maxTokens = maxTokens
		s.temperature = temperature
		s.topP = topP
	}
}
func WithHeader(h http.Header) Option { return func(s *Session) { s.header = h } }

func WithOnAudioOut(f func(pcm24k []byte)) Option { return func(s *Session) { s.onAudioOut = f } }
func WithOnText(f func(text string, role Role)) Option {
	return func(s *Session) { s.onText = f }
}
func WithOnToolUse(f func(name, id string, input map[string]interface{})) Option {
	return func(s *Session) { s.onToolUse = f }
}
func WithOnTurnComplete(f func()) Option    { return func(s *Session) { s.onTurnComplete = f } }
func WithOnInterruption(f func()) Option    { return func(s *Session) { s.onInterruption = f } }

// Session is the bidirectional speech-model stream (unified mode).
type Session struct {
	logger logging.Logger
	wsURL  string
	header http.Header

	systemPrompt string
	voice        string
	tools        []tool.Definition
	maxTokens    int
	temperature  float64
	topP         float64

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu            sync.Mutex
	modelSpeaking bool

	controlCh chan outboundEvent
	audioCh   chan outboundEvent
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	userContentID string

	toolAccumMu sync.Mutex
	toolAccum   map[string]*toolUseAccumulator

	onAudioOut     func(pcm24k []byte)
	onText         func(text string, role Role)
	onToolUse      func(name, id string, input map[string]interface{})
	onTurnComplete func()
	onInterruption func()
}

type toolUseAccumulator struct {
	name      string
	toolUseID string
	content   string
}

// New builds a Session against the given speech model WebSocket URL.
func New(logger logging.Logger, wsURL string, opts ...Option) *Session {
	s := &Session{
		logger:      logger,
		wsURL:       wsURL,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		controlCh:   make(chan outboundEvent, 16),
		audioCh:     make(chan outboundEvent, 64),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		toolAccum:   make(map[string]*toolUseAccumulator),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the stream, starts the reader/writer goroutines, and
// emits the fixed setup sequence, returning once the stream is writable
// (the USER/AUDIO content block stays open past this call).
func (s *Session) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, s.header)
	if err != nil {
		return callerr.NewAgentError(callerr.AgentConnectFailed, err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	s.conn = conn

	go s.readLoop(ctx)
	go s.writeLoop(ctx)

	if err := s.sendSetupSequence(); err != nil {
		return callerr.NewAgentError(callerr.AgentConnectFailed, err)
	}
	return nil
}

func (s *Session) sendSetupSequence() error {
	if err := s.enqueueControl(outboundEvent{Event: "sessionStart", Body: sessionStartBody{
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		TopP:        s.topP,
	}}); err != nil {
		return err
	}

	specs := make([]toolSpec, 0, len(s.tools))
	for _, d := range s.tools {
		specs = append(specs, toolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	if err := s.enqueueControl(outboundEvent{Event: "promptStart", Body: promptStartBody{
		AudioOutputConfig: audioOutputConfig{
			MediaType: "SPEECH", Encoding: "base64", SampleRate: 24000, BitDepth: 16, Channels: 1, Voice: s.voice,
		},
		TextOutputConfig: textOutputConfig{MediaType: "TEXT"},
		Tools:            specs,
	}}); err != nil {
		return err
	}

	sysID := uuid.NewString()
	if err := s.enqueueControl(outboundEvent{Event: "contentStart", Body: contentStartBody{
		ContentID: sysID, Role: RoleSystem, Type: ContentText, Interactive: false,
	}}); err != nil {
		return err
	}
	if err := s.enqueueControl(outboundEvent{Event: "textInput", Body: textInputBody{
		ContentID: sysID, Text: s.systemPrompt,
	}}); err != nil {
		return err
	}
	if err := s.enqueueControl(outboundEvent{Event: "contentEnd", Body: contentEndBody{ContentID: sysID}}); err != nil {
		return err
	}

	s.userContentID = uuid.NewString()
	return s.enqueueControl(outboundEvent{Event: "contentStart", Body: contentStartBody{
		ContentID:   s.userContentID,
		Role:        RoleUser,
		Type:        ContentAudio,
		Interactive: true,
		InputConfig: &audioInputConfig{Encoding: "base64", SampleRate: 16000, BitDepth: 16, Channels: 1},
	}})
}

// SendAudio enqueues one PCM16LE 16kHz chunk on the open USER/AUDIO
// content block. Audio is withheld by the writer while modelSpeaking is
// true, as part of the barge-in discipline; the buffering happens
// implicitly in audioCh, which is bounded.
func (s *Session) SendAudio(pcm16k []byte) error {
	return s.enqueueAudio(outboundEvent{Event: "audioInput", Body: audioInputBody{
		ContentID: s.userContentID, Audio: pcm16k,
	}})
}

// SendText injects out-of-band text as a complete, non-interactive
// content block — used for Driver-supplied messages mid-call.
func (s *Session) SendText(text string, role Role) error {
	id := uuid.NewString()
	if err := s.enqueueControl(outboundEvent{Event: "contentStart", Body: contentStartBody{
		ContentID: id, Role: role, Type: ContentText, Interactive: false,
	}}); err != nil {
		return err
	}
	if err := s.enqueueControl(outboundEvent{Event: "textInput", Body: textInputBody{ContentID: id, Text: text}}); err != nil {
		return err
	}
	return s.enqueueControl(outboundEvent{Event: "contentEnd", Body: contentEndBody{ContentID: id}})
}

// SendToolResult feeds one tool outcome back to the model as its own
// content block.
func (s *Session) SendToolResult(toolUseID, result string) error {
	id := uuid.NewString()
	if err := s.enqueueControl(outboundEvent{Event: "contentStart", Body: contentStartBody{
		ContentID: id, Role: RoleTool, Type: ContentTool, Interactive: false, ToolUseID: toolUseID,
	}}); err != nil {
		return err
	}
	if err := s.enqueueControl(outboundEvent{Event: "toolResult", Body: toolResultBody{ContentID: id, Content: result}}); err != nil {
		return err
	}
	return s.enqueueControl(outboundEvent{Event: "contentEnd", Body: contentEndBody{ContentID: id}})
}

// Close emits the ordered teardown sequence and drains for up to 500ms.
func (s *Session) Close() error {
	_ = s.enqueueControl(outboundEvent{Event: "contentEnd", Body: contentEndBody{ContentID: s.userContentID}})
	_ = s.enqueueControl(outboundEvent{Event: "promptEnd", Body: promptEndBody{}})
	_ = s.enqueueControl(outboundEvent{Event: "sessionEnd", Body: sessionEndBody{}})

	select {
	case <-time.After(drainTimeout):
	case <-s.done:
	}

	s.closeOnce.Do(func() { close(s.done) })
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Session) enqueueControl(ev outboundEvent) error {
	select {
	case s.controlCh <- ev:
		s.signalWake()
		return nil
	case <-s.done:
		return callerr.NewMediaError(callerr.MediaSocketClosed)
	}
}

func (s *Session) enqueueAudio(ev outboundEvent) error {
	select {
	case s.audioCh <- ev:
		s.signalWake()
		return nil
	case <-s.done:
		return callerr.NewMediaError(callerr.MediaSocketClosed)
	default:
		// Audio queue is bounded; drop oldest-style backpressure is the
		// caller's concern (the carrier socket paces input), so here we
		// simply block briefly rather than silently growing unbounded.
		select {
		case s.audioCh <- ev:
			s.signalWake()
			return nil
		case <-time.After(time.Second):
			return callerr.NewMediaError(callerr.MediaNotReady)
		case <-s.done:
			return callerr.NewMediaError(callerr.MediaSocketClosed)
		}
	}
}

func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) setModelSpeaking(v bool) {
	s.mu.Lock()
	changed := s.modelSpeaking != v
	s.modelSpeaking = v
	s.mu.Unlock()
	if changed {
		s.signalWake()
	}
}

func (s *Session) isModelSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelSpeaking
}

// writeLoop is the single outbound iterator: control events have strict
// priority; audio events are withheld while modelSpeaking is true.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.controlCh:
			s.write(ev)
			continue
		default:
		}

		if s.isModelSpeaking() {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case ev := <-s.controlCh:
				s.write(ev)
			case <-s.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.controlCh:
			s.write(ev)
		case ev := <-s.audioCh:
			s.write(ev)
		case <-s.wake:
		}
	}
}

func (s *Session) write(ev outboundEvent) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorf("marshal outbound event %s: %v", ev.Event, err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Errorf("write outbound event %s: %v", ev.Event, err)
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.logger.Warnw("speech agent read error", "error", err.Error())
			s.closeOnce.Do(func() { close(s.done) })
			return
		}

		var ev inboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warnw("unparsable speech agent event", "error", err.Error())
			continue
		}
		s.handleInbound(ev)
	}
}

func (s *Session) handleInbound(ev inboundEvent) {
	switch ev.Event {
	case "contentStart":
		var body contentStartIn
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return
		}
		if body.Role == RoleAssistant || body.Type == ContentAudio {
			s.setModelSpeaking(true)
		}

	case "audioOutput":
		var body audioOutputIn
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return
		}
		if s.onAudioOut != nil && len(body.Audio) > 0 {
			s.onAudioOut(body.Audio)
		}

	case "textOutput":
		var body textOutputIn
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return
		}
		if s.onText != nil {
			s.onText(body.Content, body.Role)
		}

	case "toolUse":
		var body toolUseIn
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return
		}
		s.toolAccumMu.Lock()
		acc, ok := s.toolAccum[body.ContentID]
		if !ok {
			acc = &toolUseAccumulator{name: body.Name, toolUseID: body.ToolUseID}
			s.toolAccum[body.ContentID] = acc
		}
		acc.content += body.Content
		s.toolAccumMu.Unlock()

	case "contentEnd":
		var body contentEndIn
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return
		}
		if body.Type == ContentTool {
			s.finishToolUse(body.ContentID)
		}
		if body.StopReason == StopReasonInterrupted {
			s.setModelSpeaking(false)
			if s.onInterruption != nil {
				s.onInterruption()
			}
			return
		}
		s.setModelSpeaking(false)

	case "completionEnd":
		if s.onTurnComplete != nil {
			s.onTurnComplete()
		}

	case "usageEvent":
		var body usageEventIn
		if err := json.Unmarshal(ev.Body, &body); err == nil {
			s.logger.Debugw("speech agent usage", "inputTokens", body.InputTokens, "outputTokens", body.OutputTokens)
		}

	case "modelStreamError":
		var body modelStreamErrorIn
		_ = json.Unmarshal(ev.Body, &body)
		s.logger.Errorw("speech agent model stream error", "message", body.Message)

	case "internalServerError":
		var body internalServerErrorIn
		_ = json.Unmarshal(ev.Body, &body)
		s.logger.Errorw("speech agent internal server error", "message", body.Message)

	default:
		s.logger.Debugw("unrecognized speech agent event", "event", ev.Event)
	}
}

func (s *Session) finishToolUse(contentID string) {
	s.toolAccumMu.Lock()
	acc, ok := s.toolAccum[contentID]
	if ok {
		delete(s.toolAccum, contentID)
	}
	s.toolAccumMu.Unlock()
	if !ok || s.onToolUse == nil {
		return
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(acc.content), &parsed); err != nil {
		parsed = map[string]interface{}{"raw": acc.content}
	}
	s.onToolUse(acc.name, acc.toolUseID, parsed)
}
