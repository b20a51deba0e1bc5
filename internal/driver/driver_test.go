// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package driver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/logging"
)

type fakeManager struct {
	initiateCallID, initiateResponse string
	initiateErr                      error
	continueResponse                 string
	continueErr                      error
	speakErr                         error
	endErr                           error

	lastCallID, lastMessage string
}

func (f *fakeManager) InitiateCall(ctx context.Context, message string) (string, string, error) {
	f.lastMessage = message
	return f.initiateCallID, f.initiateResponse, f.initiateErr
}
func (f *fakeManager) ContinueCall(ctx context.Context, callID, message string) (string, error) {
	f.lastCallID, f.lastMessage = callID, message
	return f.continueResponse, f.continueErr
}
func (f *fakeManager) SpeakToUser(ctx context.Context, callID, message string) error {
	f.lastCallID, f.lastMessage = callID, message
	return f.speakErr
}
func (f *fakeManager) EndCall(ctx context.Context, callID, message string) error {
	f.lastCallID, f.lastMessage = callID, message
	return f.endErr
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestDriver_InitiateCall_Success(t *testing.T) {
	fm := &fakeManager{initiateCallID: "call-1", initiateResponse: "hi there"}
	d := New(logging.NewNop(), fm)

	res, err := d.handleInitiateCall(context.Background(), toolRequest(map[string]interface{}{"message": "hello"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "call-1")
	assert.Contains(t, resultText(t, res), "hi there")
	assert.Equal(t, "hello", fm.lastMessage)
}

func TestDriver_InitiateCall_CarrierFailurePropagatesAsError(t *testing.T) {
	fm := &fakeManager{initiateErr: &callerr.CarrierError{Kind: callerr.CarrierPlaceFailed}}
	d := New(logging.NewNop(), fm)

	res, err := d.handleInitiateCall(context.Background(), toolRequest(map[string]interface{}{"message": "hello"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDriver_ContinueCall_HangupErrorRendersDriverText(t *testing.T) {
	fm := &fakeManager{continueErr: &callerr.HangupError{}}
	d := New(logging.NewNop(), fm)

	res, err := d.handleContinueCall(context.Background(), toolRequest(map[string]interface{}{"call_id": "call-1", "message": "still there?"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Call was hung up by user", resultText(t, res))
}

func TestDriver_ContinueCall_SessionNotFound(t *testing.T) {
	fm := &fakeManager{continueErr: &callerr.SessionNotFound{CallID: "ghost"}}
	d := New(logging.NewNop(), fm)

	res, err := d.handleContinueCall(context.Background(), toolRequest(map[string]interface{}{"call_id": "ghost", "message": "hi"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "No such call", resultText(t, res))
}

func TestDriver_SpeakToUser_MissingCallIDIsToolError(t *testing.T) {
	fm := &fakeManager{}
	d := New(logging.NewNop(), fm)

	res, err := d.handleSpeakToUser(context.Background(), toolRequest(map[string]interface{}{"message": "hi"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDriver_EndCall_Success(t *testing.T) {
	fm := &fakeManager{}
	d := New(logging.NewNop(), fm)

	res, err := d.handleEndCall(context.Background(), toolRequest(map[string]interface{}{"call_id": "call-1", "message": "bye"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "call-1", fm.lastCallID)
}

func TestDriver_SendText_IsOutOfScopeStub(t *testing.T) {
	d := New(logging.NewNop(), &fakeManager{})
	res, err := d.handleSendText(context.Background(), toolRequest(map[string]interface{}{"message": "hi"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDriver_Server_AdvertisesAllFiveTools(t *testing.T) {
	d := New(logging.NewNop(), &fakeManager{})
	s := d.Server("callbridge", "test")
	assert.NotNil(t, s)
}
