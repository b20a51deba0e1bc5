// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package driver exposes the call manager as a Driver-facing tool surface
// over stdio: initiate_call, continue_call, speak_to_user, end_call, and
// the out-of-scope send_text stub.
package driver

import (
	"context"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/logging"
)

// Manager is the subset of callmanager.Manager the driver depends on.
type Manager interface {
	InitiateCall(ctx context.Context, message string) (callID, response string, err error)
	ContinueCall(ctx context.Context, callID, message string) (string, error)
	SpeakToUser(ctx context.Context, callID, message string) error
	EndCall(ctx context.Context, callID, message string) error
}

// Driver serializes RPC dispatch per callId — on top of the session's own
// per-call command lock — so two concurrent RPC lines naming the same
// call never race at the tool-handler layer either.
type Driver struct {
	logger  logging.Logger
	manager Manager

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Driver over an already-constructed call manager.
func New(logger logging.Logger, manager Manager) *Driver {
	return &Driver{
		logger:  logger,
		manager: manager,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (d *Driver) lockFor(callID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.locks[callID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[callID] = l
	}
	return l
}

// Server builds the MCP server advertising the four in-scope tools plus the
// out-of-scope send_text stub, ready for server.ServeStdio.
func (d *Driver) Server(name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version)

	s.AddTool(mcp.NewTool("initiate_call",
		mcp.WithDescription("Place an outbound call and speak the given message as the call's opening turn."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The opening line to speak to the callee.")),
	), d.handleInitiateCall)

	s.AddTool(mcp.NewTool("continue_call",
		mcp.WithDescription("Speak a message on an in-progress call and wait for the caller's next reply."),
		mcp.WithString("call_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
	), d.handleContinueCall)

	s.AddTool(mcp.NewTool("speak_to_user",
		mcp.WithDescription("Speak a message on an in-progress call without waiting for a reply."),
		mcp.WithString("call_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
	), d.handleSpeakToUser)

	s.AddTool(mcp.NewTool("end_call",
		mcp.WithDescription("Speak a closing message and hang up an in-progress call."),
		mcp.WithString("call_id", mcp.Required()),
		mcp.WithString("message", mcp.Required()),
	), d.handleEndCall)

	s.AddTool(mcp.NewTool("send_text",
		mcp.WithDescription("Send an SMS/text follow-up (not implemented)."),
		mcp.WithString("message", mcp.Required()),
	), d.handleSendText)

	return s
}

func (d *Driver) handleInitiateCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callID, response, err := d.manager.InitiateCall(ctx, message)
	if err != nil {
		return mcp.NewToolResultError(driverErrorText(err)), nil
	}

	return mcp.NewToolResultText(formatCallResult(callID, response)), nil
}

func (d *Driver) handleContinueCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, message, err := requireCallIDAndMessage(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l := d.lockFor(callID)
	l.Lock()
	defer l.Unlock()

	response, err := d.manager.ContinueCall(ctx, callID, message)
	if err != nil {
		return mcp.NewToolResultError(driverErrorText(err)), nil
	}
	return mcp.NewToolResultText(response), nil
}

func (d *Driver) handleSpeakToUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, message, err := requireCallIDAndMessage(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l := d.lockFor(callID)
	l.Lock()
	defer l.Unlock()

	if err := d.manager.SpeakToUser(ctx, callID, message); err != nil {
		return mcp.NewToolResultError(driverErrorText(err)), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (d *Driver) handleEndCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callID, message, err := requireCallIDAndMessage(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	l := d.lockFor(callID)
	l.Lock()
	defer l.Unlock()

	err = d.manager.EndCall(ctx, callID, message)

	d.locksMu.Lock()
	delete(d.locks, callID)
	d.locksMu.Unlock()

	if err != nil {
		return mcp.NewToolResultError(driverErrorText(err)), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (d *Driver) handleSendText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError("send_text is not supported by this deployment"), nil
}

func requireCallIDAndMessage(req mcp.CallToolRequest) (callID, message string, err error) {
	callID, err = req.RequireString("call_id")
	if err != nil {
		return "", "", err
	}
	message, err = req.RequireString("message")
	if err != nil {
		return "", "", err
	}
	return callID, message, nil
}

func formatCallResult(callID, response string) string {
	return "callId: " + callID + "\nresponse: " + response
}

// driverErrorText renders an error for the isError:true tool result without
// leaking a stack trace across the RPC boundary.
func driverErrorText(err error) string {
	var hangup *callerr.HangupError
	if errors.As(err, &hangup) {
		return "Call was hung up by user"
	}
	var notFound *callerr.SessionNotFound
	if errors.As(err, &notFound) {
		return "No such call"
	}
	var timeout *callerr.TimeoutError
	if errors.As(err, &timeout) {
		return "Timed out waiting for " + timeout.What
	}
	return err.Error()
}
