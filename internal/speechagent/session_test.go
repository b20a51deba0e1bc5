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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callbridge/internal/logging"
)

var upgrader = websocket.Upgrader{}

// fakeModelServer accepts one connection and records every outbound
// event the session writes, in arrival order.
type fakeModelServer struct {
	mu       sync.Mutex
	received []outboundEvent
	conn     *websocket.Conn
	connCh   chan struct{}
}

func newFakeModelServer() (*fakeModelServer, *httptest.Server) {
	f := &fakeModelServer{connCh: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connCh)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev outboundEvent
			_ = json.Unmarshal(raw, &ev)
			f.mu.Lock()
			f.received = append(f.received, ev)
			f.mu.Unlock()
		}
	}))
	return f, srv
}

func (f *fakeModelServer) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	for i, e := range f.received {
		out[i] = e.Event
	}
	return out
}

func (f *fakeModelServer) sendToClient(t *testing.T, ev inboundEvent) {
	t.Helper()
	select {
	case <-f.connCh:
	case <-time.After(time.Second):
		t.Fatal("client never connected")
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, data))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSession_SetupSequenceOrder(t *testing.T) {
	fake, srv := newFakeModelServer()
	defer srv.Close()

	s := New(logging.NewNop(), wsURL(srv.URL), WithSystemPrompt("be helpful"), WithVoice("amy"))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { return len(fake.events()) >= 6 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"sessionStart", "promptStart", "contentStart", "textInput", "contentEnd", "contentStart"}, fake.events())
}

func TestSession_AudioWithheldWhileModelSpeaking(t *testing.T) {
	fake, srv := newFakeModelServer()
	defer srv.Close()

	s := New(logging.NewNop(), wsURL(srv.URL))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { return len(fake.events()) >= 6 }, time.Second, 10*time.Millisecond)

	s.setModelSpeaking(true)
	require.NoError(t, s.SendAudio([]byte{1, 2, 3}))

	// Give the writer loop a chance to run; audioInput must not appear.
	time.Sleep(50 * time.Millisecond)
	for _, e := range fake.events() {
		assert.NotEqual(t, "audioInput", e)
	}

	s.setModelSpeaking(false)
	require.Eventually(t, func() bool {
		for _, e := range fake.events() {
			if e == "audioInput" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSession_ToolUseAccumulatesAcrossPartialEvents(t *testing.T) {
	fake, srv := newFakeModelServer()
	defer srv.Close()

	toolUseCh := make(chan map[string]interface{}, 1)
	s := New(logging.NewNop(), wsURL(srv.URL), WithOnToolUse(func(name, id string, input map[string]interface{}) {
		toolUseCh <- input
	}))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	part1, _ := json.Marshal(toolUseIn{ContentID: "c1", ToolUseID: "tu1", Name: "lookup", Content: `{"city":`})
	part2, _ := json.Marshal(toolUseIn{ContentID: "c1", ToolUseID: "tu1", Name: "lookup", Content: `"nyc"}`})
	fake.sendToClient(t, inboundEvent{Event: "toolUse", Body: part1})
	fake.sendToClient(t, inboundEvent{Event: "toolUse", Body: part2})

	endBody, _ := json.Marshal(contentEndIn{ContentID: "c1", Type: ContentTool})
	fake.sendToClient(t, inboundEvent{Event: "contentEnd", Body: endBody})

	select {
	case input := <-toolUseCh:
		assert.Equal(t, "nyc", input["city"])
	case <-time.After(time.Second):
		t.Fatal("onToolUse never fired")
	}
}

func TestSession_InterruptionFlipsModelSpeakingAndFiresCallback(t *testing.T) {
	interrupted := make(chan struct{}, 1)
	fake, srv := newFakeModelServer()
	defer srv.Close()

	s := New(logging.NewNop(), wsURL(srv.URL), WithOnInterruption(func() { interrupted <- struct{}{} }))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	s.setModelSpeaking(true)
	require.True(t, s.isModelSpeaking())

	endBody, _ := json.Marshal(contentEndIn{ContentID: "c1", Type: ContentAudio, StopReason: StopReasonInterrupted})
	fake.sendToClient(t, inboundEvent{Event: "contentEnd", Body: endBody})

	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("onInterruption never fired")
	}
	assert.Eventually(t, func() bool { return !s.isModelSpeaking() }, time.Second, 10*time.Millisecond)
}

func TestSession_CloseEmitsTeardownSequence(t *testing.T) {
	fake, srv := newFakeModelServer()
	defer srv.Close()

	s := New(logging.NewNop(), wsURL(srv.URL))
	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(fake.events()) >= 6 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())

	events := fake.events()
	require.GreaterOrEqual(t, len(events), 3)
	tail := events[len(events)-3:]
	assert.Equal(t, []string{"contentEnd", "promptEnd", "sessionEnd"}, tail)
}
