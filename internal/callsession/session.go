// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callsession implements the Call Session: the per-call
// state machine owning the carrier media socket and either the unified
// speech agent or the split-brain pipeline.
package callsession

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/logging"
	"github.com/rapidaai/callbridge/internal/speechagent"
	"github.com/rapidaai/callbridge/internal/splitbrain/llm"
	"github.com/rapidaai/callbridge/internal/splitbrain/stt"
	"github.com/rapidaai/callbridge/internal/splitbrain/tts"
	"github.com/rapidaai/callbridge/internal/tool"
)

const (
	DefaultMediaReadyTimeout = 15 * time.Second
	DefaultTurnTimeout       = 180 * time.Second

	unifiedDrainTimeout = 3 * time.Second
	splitDrainTimeout   = 2 * time.Second
)

// TranscriptEntry is one line of the call's (speaker, text, timestamp) log.
type TranscriptEntry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Config bundles everything a CallSession needs to build its mode-specific
// backend, constructed once per call by the call manager.
type Config struct {
	Logger  logging.Logger
	Carrier carrier.Port
	Tools   *tool.Config

	Mode Mode

	UserNumber   string
	CallerNumber string
	WebhookURL   string // receives carrier call-status events for this call

	MediaReadyTimeout time.Duration
	TurnTimeout       time.Duration

	// OnPlaced fires once PlaceOutbound returns a carrier call reference,
	// letting the call manager index carrierCallRef->callId before Start
	// finishes its blocking wait for media readiness.
	OnPlaced func(carrierCallRef string)

	// Unified mode.
	AgentWsURL        string
	AgentHeader       http.Header
	AgentSystemPrompt string
	AgentVoice        string
	AgentMaxTokens    int
	AgentTemperature  float64
	AgentTopP         float64

	// Split mode.
	STTHTTPClient *resty.Client
	STTEndpoint   string
	STTSilenceMS  int
	Brain         *llm.Brain
	TTSWsURL      string
	TTSVoiceID    string
}

// CallSession owns one telephone call end to end.
type CallSession struct {
	callID         string
	carrierCallRef string
	userNumber     string
	callerNumber   string
	webhookURL     string
	wsToken        string
	mode           Mode

	logger      logging.Logger
	carrierPort carrier.Port
	tools       *tool.Config

	mediaReadyTimeout time.Duration
	turnTimeout       time.Duration
	onPlaced          func(carrierCallRef string)

	mu            sync.RWMutex
	state         State
	mediaConn     *websocket.Conn
	mediaStreamID string
	streamReady   bool
	hungUp        bool
	startedAt     time.Time
	endedAt       time.Time

	// cmdMu serializes initiate/continue/speak/end for this session, per
	// the one-command-in-flight-at-a-time ordering guarantee.
	cmdMu sync.Mutex

	transcriptMu sync.Mutex
	transcript   []TranscriptEntry

	turnMu      sync.Mutex
	turnWaiters []chan turnResult

	hungUpCh       chan struct{}
	mediaReadyCh   chan struct{}
	mediaReadyOnce sync.Once

	writer *writer

	agent *speechagent.Session

	sttPipeline *stt.Pipeline
	brain       *llm.Brain
	ttsClient   *tts.Client
	jitter      *tts.JitterBuffer
	ttsContext    int // monotonically increasing context id for split TTS turns
	sttChInternal chan string
}

type turnResult struct {
	text string
	err  error
}

// New constructs a CallSession in state NEW, wiring the mode-specific
// backend's callbacks to this session's handlers.
func New(callID string, cfg Config) *CallSession {
	mediaReady := cfg.MediaReadyTimeout
	if mediaReady <= 0 {
		mediaReady = DefaultMediaReadyTimeout
	}
	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}

	s := &CallSession{
		callID:            callID,
		userNumber:        cfg.UserNumber,
		callerNumber:      cfg.CallerNumber,
		webhookURL:        cfg.WebhookURL,
		mode:              cfg.Mode,
		logger:            cfg.Logger.With("callId", callID),
		carrierPort:       cfg.Carrier,
		tools:             cfg.Tools,
		mediaReadyTimeout: mediaReady,
		turnTimeout:       turnTimeout,
		onPlaced:          cfg.OnPlaced,
		state:             StateNew,
		hungUpCh:          make(chan struct{}),
		mediaReadyCh:      make(chan struct{}),
	}
	s.writer = newWriter(s)
	s.jitter = tts.NewJitterBuffer(100)

	var toolDefs []tool.Definition
	if cfg.Tools != nil {
		toolDefs = cfg.Tools.Definitions()
	}

	switch cfg.Mode {
	case ModeUnified:
		s.agent = speechagent.New(s.logger, cfg.AgentWsURL,
			speechagent.WithSystemPrompt(cfg.AgentSystemPrompt),
			speechagent.WithVoice(cfg.AgentVoice),
			speechagent.WithTools(toolDefs),
			speechagent.WithHeader(cfg.AgentHeader),
			speechagent.WithInferenceParams(cfg.AgentMaxTokens, cfg.AgentTemperature, cfg.AgentTopP),
			speechagent.WithOnAudioOut(s.onAgentAudio),
			speechagent.WithOnText(s.onAgentText),
			speechagent.WithOnToolUse(s.onAgentToolUse),
			speechagent.WithOnTurnComplete(s.onAgentTurnComplete),
			speechagent.WithOnInterruption(s.onAgentInterruption),
		)
	case ModeSplit:
		s.sttPipeline = stt.New(s.logger, cfg.STTHTTPClient, cfg.STTEndpoint,
			stt.WithSilenceMS(cfg.STTSilenceMS),
			stt.WithOnTranscript(s.onSTTTranscript),
		)
		s.brain = cfg.Brain
		s.ttsClient = tts.New(s.logger, cfg.TTSWsURL,
			tts.WithVoiceID(cfg.TTSVoiceID),
			tts.WithOnAudio(s.onTTSAudio),
			tts.WithOnComplete(s.onTTSComplete),
		)
	}
	return s
}

func (s *CallSession) CallID() string { return s.callID }

func (s *CallSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CallSession) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

func (s *CallSession) CarrierCallRef() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carrierCallRef
}

func (s *CallSession) WsToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wsToken
}

func (s *CallSession) SetWsToken(token string) {
	s.mu.Lock()
	s.wsToken = token
	s.mu.Unlock()
}

func (s *CallSession) HungUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hungUp
}

func (s *CallSession) appendTranscript(speaker Speaker, text string) {
	if text == "" {
		return
	}
	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, TranscriptEntry{Speaker: speaker, Text: text, Timestamp: time.Now()})
	s.transcriptMu.Unlock()
}

// Transcript returns a copy of the accumulated (speaker, text, timestamp)
// log.
func (s *CallSession) Transcript() []TranscriptEntry {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Start places the outbound call, waits for media readiness, delivers
// initialMessage, and returns the user's first transcript.
func (s *CallSession) Start(ctx context.Context, initialMessage string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.setState(StatePlacing)

	// Placing the outbound leg and priming the unified agent/TTS stream
	// are independent; running them concurrently shaves the round trip
	// one of them would otherwise add serially.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref, err := s.carrierPort.PlaceOutbound(gctx, s.userNumber, s.callerNumber, s.webhookURL)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.carrierCallRef = ref
		s.startedAt = time.Now()
		s.mu.Unlock()
		s.setState(StateRinging)
		if s.onPlaced != nil {
			s.onPlaced(ref)
		}
		return nil
	})
	g.Go(func() error {
		return s.connectBackend(gctx)
	})
	if err := g.Wait(); err != nil {
		s.setState(StateFailed)
		return "", err
	}
	s.setState(StateConnectingMedia)

	select {
	case <-s.mediaReadyCh:
	case <-s.hungUpCh:
		return "", &callerr.HangupError{}
	case <-time.After(s.mediaReadyTimeout):
		s.setState(StateFailed)
		return "", callerr.NewTimeoutError("media")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.setState(StateReady)
	s.writer.start(ctx)

	if s.mode == ModeSplit {
		go s.splitConversationLoop(ctx)
	}

	if err := s.deliverMessage(ctx, initialMessage); err != nil {
		return "", err
	}
	return s.waitForUserTurn(ctx, s.turnTimeout)
}

// connectBackend opens the unified agent stream or the split pipeline's
// TTS websocket (the STT pipeline has no persistent connection to open).
func (s *CallSession) connectBackend(ctx context.Context) error {
	switch s.mode {
	case ModeUnified:
		if s.agent == nil {
			return callerr.NewAgentError(callerr.AgentConnectFailed, fmt.Errorf("no agent configured"))
		}
		return s.agent.Connect(ctx)
	case ModeSplit:
		if s.ttsClient != nil {
			return s.ttsClient.Connect(ctx)
		}
	}
	return nil
}

// Inject delivers message as a Driver-originated turn and waits for the
// next user turn.
func (s *CallSession) Inject(ctx context.Context, message string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !isReadyOrSubstate(s.State()) {
		return "", fmt.Errorf("session not ready")
	}
	if err := s.deliverMessage(ctx, message); err != nil {
		return "", err
	}
	return s.waitForUserTurn(ctx, s.turnTimeout)
}

// Speak is the fire-and-forget variant: deliver without waiting for a
// reply.
func (s *CallSession) Speak(ctx context.Context, message string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !isReadyOrSubstate(s.State()) {
		return fmt.Errorf("session not ready")
	}
	return s.deliverMessage(ctx, message)
}

// End delivers a closing message, drains, hangs up, and closes sockets.
func (s *CallSession) End(ctx context.Context, message string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.setState(StateEnding)
	if message != "" {
		_ = s.deliverMessage(ctx, message)
	}

	drain := unifiedDrainTimeout
	if s.mode == ModeSplit {
		drain = splitDrainTimeout
	}
	select {
	case <-time.After(drain):
	case <-s.hungUpCh:
	}

	s.closeAll()

	if ref := s.CarrierCallRef(); ref != "" {
		if err := s.carrierPort.Hangup(ctx, ref); err != nil {
			s.logger.Warnw("hangup failed during end", "error", err.Error())
		}
	}

	s.setState(StateEnded)
	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *CallSession) closeAll() {
	s.writer.stop()
	if s.agent != nil {
		_ = s.agent.Close()
	}
	if s.ttsClient != nil {
		_ = s.ttsClient.Close()
	}
	s.mu.Lock()
	if s.mediaConn != nil {
		_ = s.mediaConn.Close()
		s.mediaConn = nil
	}
	s.mu.Unlock()
}

// deliverMessage routes a Driver-supplied message to the active backend.
func (s *CallSession) deliverMessage(ctx context.Context, text string) error {
	switch s.mode {
	case ModeUnified:
		return s.agent.SendText(text, speechagent.RoleUser)
	case ModeSplit:
		resp, err := s.brain.InjectContext(ctx, text)
		if err != nil {
			return err
		}
		resp, err = s.runToolLoop(ctx, resp)
		if err != nil {
			return err
		}
		return s.speakSplit(resp.Text)
	}
	return fmt.Errorf("unknown mode %q", s.mode)
}

// waitForUserTurn blocks until the backend reports a non-empty user
// transcript for the current turn, the call hangs up, or timeout elapses.
// Hangup is detected via hungUpCh, closed exactly once by markHungUp.
func (s *CallSession) waitForUserTurn(ctx context.Context, timeout time.Duration) (string, error) {
	ch := make(chan turnResult, 1)
	s.turnMu.Lock()
	s.turnWaiters = append(s.turnWaiters, ch)
	s.turnMu.Unlock()

	defer s.removeWaiter(ch)

	select {
	case r := <-ch:
		return r.text, r.err
	case <-s.hungUpCh:
		return "", &callerr.HangupError{}
	case <-time.After(timeout):
		return "", callerr.NewTimeoutError("user turn")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallSession) removeWaiter(ch chan turnResult) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	for i, w := range s.turnWaiters {
		if w == ch {
			s.turnWaiters = append(s.turnWaiters[:i], s.turnWaiters[i+1:]...)
			return
		}
	}
}

// resolveUserTurn delivers text to every waiter currently registered
// (normally zero or one, since commands are serialized per session).
// Empty text leaves the waiters pending.
func (s *CallSession) resolveUserTurn(text string) {
	if text == "" {
		return
	}
	s.turnMu.Lock()
	waiters := s.turnWaiters
	s.turnWaiters = nil
	s.turnMu.Unlock()

	for _, w := range waiters {
		w <- turnResult{text: text}
	}
}

// markHungUp flips hungUp, closes hungUpCh exactly once, and transitions
// to ENDING so every pending/future wait rejects with HangupError.
func (s *CallSession) markHungUp() {
	s.mu.Lock()
	already := s.hungUp
	s.hungUp = true
	s.mu.Unlock()
	if already {
		return
	}
	s.setState(StateEnding)
	close(s.hungUpCh)
}

func (s *CallSession) markMediaReady() {
	s.mediaReadyOnce.Do(func() { close(s.mediaReadyCh) })
}

// NotifyCarrierHangup marks the session hung up in response to a carrier
// webhook reporting a terminal call status, as opposed to a media-socket
// close or "stop" frame (seen by the AttachMediaSocket read loop).
func (s *CallSession) NotifyCarrierHangup() {
	s.markHungUp()
}
