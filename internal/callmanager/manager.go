// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callmanager implements the Call Manager: the process-wide
// session registry, carrier webhook/media-stream HTTP listener, and
// Driver RPC entry points.
package callmanager

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/callsession"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/logging"
	"github.com/rapidaai/callbridge/internal/webhookauth"
)

// ShutdownGrace bounds how long Shutdown waits for every active session's
// End to complete before dropping sockets regardless.
const ShutdownGrace = 5 * time.Second

// SessionFactory builds a CallSession for one new call. onPlaced must be
// threaded through to callsession.Config.OnPlaced so the manager can index
// the carrier call reference before Start's blocking wait returns.
type SessionFactory func(callID string, onPlaced func(carrierCallRef string)) *callsession.CallSession

type sessionEntry struct {
	session        *callsession.CallSession
	wsToken        string
	carrierCallRef string
}

// Manager owns every live CallSession and the two lookup indexes
// (carrierCallRef->callId, wsToken->callId) behind one lock with short
// critical sections; no lock is held across network I/O.
type Manager struct {
	logger      logging.Logger
	carrierPort carrier.Port
	newSession  SessionFactory

	carrierKind           carrier.Kind
	carrierAuthToken      string             // carrier A: HMAC-SHA1 key
	carrierEd25519PubKey  ed25519.PublicKey  // carrier B: signature verification key
	webhookURL            string             // this process's public /twiml URL
	webSocketBaseURL      string             // this process's public wss:// base, e.g. wss://host
	trustWithoutSignature bool
	bypass                *webhookauth.BypassLogger

	mu                sync.Mutex
	byCallID          map[string]*sessionEntry
	byCarrierRef      map[string]string // carrierCallRef -> callId
	byWsToken         map[string]string // wsToken -> callId
	tokenUsed         map[string]bool
	lastCreatedCallID string
}

// Options configures webhook-facing details of a Manager that depend on
// deployment (carrier selection, public URLs, signing keys).
type Options struct {
	CarrierKind           carrier.Kind
	CarrierAuthToken      string
	CarrierEd25519PubKey  ed25519.PublicKey
	WebhookURL            string
	WebSocketBaseURL      string
	TrustWithoutSignature bool
}

// New builds a Manager. opts.TrustWithoutSignature enables the tunneled-
// deployment fallback binding policy for untokenized media-stream
// upgrades.
func New(logger logging.Logger, carrierPort carrier.Port, newSession SessionFactory, opts Options) *Manager {
	return &Manager{
		logger:                logger,
		carrierPort:           carrierPort,
		newSession:            newSession,
		carrierKind:           opts.CarrierKind,
		carrierAuthToken:      opts.CarrierAuthToken,
		carrierEd25519PubKey:  opts.CarrierEd25519PubKey,
		webhookURL:            opts.WebhookURL,
		webSocketBaseURL:      opts.WebSocketBaseURL,
		trustWithoutSignature: opts.TrustWithoutSignature,
		bypass:                webhookauth.NewBypassLogger(logger),
		byCallID:              make(map[string]*sessionEntry),
		byCarrierRef:          make(map[string]string),
		byWsToken:             make(map[string]string),
		tokenUsed:             make(map[string]bool),
	}
}

// InitiateCall creates a session, places the outbound leg, and returns the
// user's first transcribed turn. On any failure the session is removed:
// a CarrierError{place_failed} fails initiate_call and removes the
// session, and we extend that removal to every Start failure, since no
// live session exists to continue from if setup itself never completed.
func (m *Manager) InitiateCall(ctx context.Context, message string) (callID, response string, err error) {
	callID = uuid.NewString()
	token, err := webhookauth.NewWsToken()
	if err != nil {
		return "", "", fmt.Errorf("mint ws token: %w", err)
	}

	onPlaced := func(ref string) {
		m.mu.Lock()
		m.byCarrierRef[ref] = callID
		if e, ok := m.byCallID[callID]; ok {
			e.carrierCallRef = ref
		}
		m.mu.Unlock()
	}

	session := m.newSession(callID, onPlaced)
	session.SetWsToken(token)

	m.mu.Lock()
	m.byCallID[callID] = &sessionEntry{session: session, wsToken: token}
	m.byWsToken[token] = callID
	m.lastCreatedCallID = callID
	m.mu.Unlock()

	response, err = session.Start(ctx, message)
	if err != nil {
		m.remove(callID)
		return callID, "", err
	}
	return callID, response, nil
}

// ContinueCall delivers message as a new user-visible turn and returns the
// next user transcript.
func (m *Manager) ContinueCall(ctx context.Context, callID, message string) (string, error) {
	session, err := m.lookup(callID)
	if err != nil {
		return "", err
	}
	return session.Inject(ctx, message)
}

// SpeakToUser delivers message without waiting for a reply.
func (m *Manager) SpeakToUser(ctx context.Context, callID, message string) error {
	session, err := m.lookup(callID)
	if err != nil {
		return err
	}
	return session.Speak(ctx, message)
}

// EndCall delivers a closing message, tears the session down, and removes
// it from the registry.
func (m *Manager) EndCall(ctx context.Context, callID, message string) error {
	session, err := m.lookup(callID)
	if err != nil {
		return err
	}
	endErr := session.End(ctx, message)
	m.remove(callID)
	return endErr
}

func (m *Manager) lookup(callID string) (*callsession.CallSession, error) {
	m.mu.Lock()
	e, ok := m.byCallID[callID]
	m.mu.Unlock()
	if !ok {
		return nil, &callerr.SessionNotFound{CallID: callID}
	}
	return e.session, nil
}

func (m *Manager) lookupByCarrierRef(ref string) (*callsession.CallSession, bool) {
	m.mu.Lock()
	callID, ok := m.byCarrierRef[ref]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	e := m.byCallID[callID]
	m.mu.Unlock()
	if e == nil {
		return nil, false
	}
	return e.session, true
}

// takeMediaToken resolves a wsToken to its session, consuming the token so
// a second upgrade attempt with the same token is rejected. An empty
// token binds to the most recently created session only when
// trustWithoutSignature is set — a tunneled-deployment fallback that is
// best-effort, documented, and operator opt-in only.
func (m *Manager) takeMediaToken(token string) (*callsession.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		if !m.trustWithoutSignature || m.lastCreatedCallID == "" {
			return nil, false
		}
		e, ok := m.byCallID[m.lastCreatedCallID]
		if !ok {
			return nil, false
		}
		m.bypass.LogBypass("/media-stream")
		return e.session, true
	}

	callID, ok := m.byWsToken[token]
	if !ok || m.tokenUsed[token] {
		return nil, false
	}
	e, ok := m.byCallID[callID]
	if !ok {
		return nil, false
	}
	m.tokenUsed[token] = true
	return e.session, true
}

func (m *Manager) remove(callID string) {
	m.mu.Lock()
	e, ok := m.byCallID[callID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byCallID, callID)
	if e.wsToken != "" {
		delete(m.byWsToken, e.wsToken)
		delete(m.tokenUsed, e.wsToken)
	}
	if e.carrierCallRef != "" {
		delete(m.byCarrierRef, e.carrierCallRef)
	}
	if m.lastCreatedCallID == callID {
		m.lastCreatedCallID = ""
	}
	m.mu.Unlock()
}

// ActiveCallCount reports the number of sessions currently registered.
func (m *Manager) ActiveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byCallID)
}

// Shutdown attempts an orderly End on every active session, bounded by
// ShutdownGrace, then returns regardless of stragglers.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*callsession.CallSession, 0, len(m.byCallID))
	for _, e := range m.byCallID {
		sessions = append(sessions, e.session)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ShutdownGrace)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := s.End(ctx, ""); err != nil {
				m.logger.Warnw("session end failed during shutdown", "callId", s.CallID(), "error", err.Error())
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warnw("shutdown grace period elapsed with sessions still draining")
	}
}
