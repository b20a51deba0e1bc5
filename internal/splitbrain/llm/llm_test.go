// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBrain(t *testing.T, handler http.HandlerFunc) (*Brain, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(srv.URL))
	b := &Brain{client: client, model: DefaultModel, maxTokens: DefaultMaxTokens}
	return b, srv
}

func messageFixture(stopReason anthropic.StopReason, content []map[string]interface{}) []byte {
	body := map[string]interface{}{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"model":       string(DefaultModel),
		"stop_reason": stopReason,
		"content":     content,
		"usage":       map[string]interface{}{"input_tokens": 1, "output_tokens": 1},
	}
	b, _ := json.Marshal(body)
	return b
}

func TestBrain_Respond_TextReply(t *testing.T) {
	b, srv := newTestBrain(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(messageFixture(anthropic.StopReasonEndTurn, []map[string]interface{}{
			{"type": "text", "text": "hello back"},
		}))
	})
	defer srv.Close()

	resp, err := b.Respond(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Empty(t, resp.ToolUses)
}

func TestBrain_Respond_ToolUseReply(t *testing.T) {
	b, srv := newTestBrain(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(messageFixture(anthropic.StopReasonToolUse, []map[string]interface{}{
			{"type": "tool_use", "id": "tu_1", "name": "lookup_weather", "input": map[string]interface{}{"city": "nyc"}},
		}))
	})
	defer srv.Close()

	resp, err := b.Respond(context.Background(), "what's the weather in nyc?")
	require.NoError(t, err)
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolUses, 1)
	assert.Equal(t, "lookup_weather", resp.ToolUses[0].Name)
	assert.Equal(t, "nyc", resp.ToolUses[0].Input["city"])
}

func TestBrain_InjectContext_WrapsAsSystemQuote(t *testing.T) {
	var capturedBody []byte
	b, srv := newTestBrain(t, func(w http.ResponseWriter, r *http.Request) {
		capturedBody, _ = readAll(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write(messageFixture(anthropic.StopReasonEndTurn, []map[string]interface{}{
			{"type": "text", "text": "ack"},
		}))
	})
	defer srv.Close()

	_, err := b.InjectContext(context.Background(), "the user pressed hold")
	require.NoError(t, err)
	assert.Contains(t, string(capturedBody), "[System: the user pressed hold]")
}

func readAll(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}
