// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callmanager

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/callsession"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/logging"
	"github.com/rapidaai/callbridge/internal/tool"
)

// fakeCarrier places calls instantly without contacting anything real, and
// records every Hangup it's asked to perform.
type fakeCarrier struct {
	ref     string
	hangups chan string
}

func newFakeCarrier() *fakeCarrier { return &fakeCarrier{ref: "CA-1", hangups: make(chan string, 8)} }

func (f *fakeCarrier) Kind() carrier.Kind { return carrier.KindA }
func (f *fakeCarrier) PlaceOutbound(ctx context.Context, to, from, webhookUrl string) (string, error) {
	return f.ref, nil
}
func (f *fakeCarrier) StartMediaStream(ctx context.Context, carrierCallRef, wsUrl string) error {
	return nil
}
func (f *fakeCarrier) Hangup(ctx context.Context, carrierCallRef string) error {
	f.hangups <- carrierCallRef
	return nil
}
func (f *fakeCarrier) MediaConnectDirective(wsUrl string) []byte { return []byte(wsUrl) }

// newUnifiedFactory builds a SessionFactory for unified sessions with a
// short MediaReadyTimeout. The tests point it at an unreachable
// speech-agent URL, so session start fails quickly and they assert on
// InitiateCall's error path and the registry bookkeeping around it; no
// media socket is attached.
func newUnifiedFactory(fc *fakeCarrier, agentWsURL string) SessionFactory {
	return func(callID string, onPlaced func(string)) *callsession.CallSession {
		return callsession.New(callID, callsession.Config{
			Logger:            logging.NewNop(),
			Carrier:           fc,
			Tools:             tool.NewConfig(time.Second),
			Mode:              callsession.ModeUnified,
			MediaReadyTimeout: 30 * time.Millisecond,
			TurnTimeout:       time.Second,
			AgentWsURL:        agentWsURL,
			OnPlaced:          onPlaced,
		})
	}
}

func newManager(t *testing.T, fc *fakeCarrier, factory SessionFactory, opts Options) *Manager {
	t.Helper()
	return New(logging.NewNop(), fc, factory, opts)
}

func TestManager_InitiateCall_FailureRemovesSession(t *testing.T) {
	fc := newFakeCarrier()
	// No server listening at this URL: the agent dial fails, Start returns
	// an error, and InitiateCall must not leave a dangling registry entry.
	factory := newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens")
	m := newManager(t, fc, factory, Options{CarrierKind: carrier.KindA})

	callID, _, err := m.InitiateCall(context.Background(), "hello")
	require.Error(t, err)
	assert.NotEmpty(t, callID)
	assert.Equal(t, 0, m.ActiveCallCount())

	_, lookupErr := m.lookup(callID)
	var notFound *callerr.SessionNotFound
	assert.ErrorAs(t, lookupErr, &notFound)
}

func TestManager_ContinueCall_SessionNotFound(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{})

	_, err := m.ContinueCall(context.Background(), "no-such-call", "hi")
	var notFound *callerr.SessionNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_SpeakToUser_SessionNotFound(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{})

	err := m.SpeakToUser(context.Background(), "no-such-call", "hi")
	var notFound *callerr.SessionNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_TakeMediaToken_SingleUseInvariant(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{})

	sess := callsession.New("call-x", callsession.Config{Logger: logging.NewNop(), Carrier: fc, Mode: callsession.ModeUnified})
	m.mu.Lock()
	m.byCallID["call-x"] = &sessionEntry{session: sess, wsToken: "tok-1"}
	m.byWsToken["tok-1"] = "call-x"
	m.lastCreatedCallID = "call-x"
	m.mu.Unlock()

	got, ok := m.takeMediaToken("tok-1")
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = m.takeMediaToken("tok-1")
	assert.False(t, ok, "a wsToken must not be redeemable twice")
}

func TestManager_TakeMediaToken_TunneledFallback(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{TrustWithoutSignature: true})

	sess := callsession.New("call-y", callsession.Config{Logger: logging.NewNop(), Carrier: fc, Mode: callsession.ModeUnified})
	m.mu.Lock()
	m.byCallID["call-y"] = &sessionEntry{session: sess, wsToken: "tok-2"}
	m.byWsToken["tok-2"] = "call-y"
	m.lastCreatedCallID = "call-y"
	m.mu.Unlock()

	got, ok := m.takeMediaToken("")
	require.True(t, ok, "empty token should bind to the most recently created session when trustWithoutSignature is set")
	assert.Same(t, sess, got)
}

func TestManager_TakeMediaToken_RejectsUnknownTokenWithoutFallback(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{TrustWithoutSignature: false})

	_, ok := m.takeMediaToken("")
	assert.False(t, ok, "fallback binding must be opt-in")

	_, ok = m.takeMediaToken("does-not-exist")
	assert.False(t, ok)
}

func TestManager_HandleWebhookA_RejectsBadSignature(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{
		CarrierKind:      carrier.KindA,
		CarrierAuthToken: "secret",
		WebhookURL:       "https://example.test/twiml",
	})

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	form := url.Values{"CallSid": {"CA-1"}, "CallStatus": {"ringing"}}
	resp, err := srv.Client().PostForm(srv.URL+"/twiml", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode, "a request with no X-Twilio-Signature header must be rejected")
}

func TestManager_HandleHealth(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{})

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestManager_HandleMediaStream_RejectsMissingToken(t *testing.T) {
	fc := newFakeCarrier()
	m := newManager(t, fc, newUnifiedFactory(fc, "ws://127.0.0.1:1/never-listens"), Options{})

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	resp, err := srv.Client().Get(strings.Replace(wsURL, "ws", "http", 1))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}
