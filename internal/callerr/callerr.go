// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callerr implements the call bridge's error taxonomy: typed
// errors the Driver-facing layer translates into short, stack-trace-free
// text.
package callerr

import "fmt"

// CarrierErrorKind enumerates the ways a carrier operation can fail.
type CarrierErrorKind string

const (
	CarrierPlaceFailed  CarrierErrorKind = "place_failed"
	CarrierHangupFailed CarrierErrorKind = "hangup_failed"
	CarrierParseFailed  CarrierErrorKind = "parse_failed"
)

// CarrierError wraps a failure from the telephony carrier port.
type CarrierError struct {
	Kind   CarrierErrorKind
	Detail string
	Cause  error
}

func (e *CarrierError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("carrier error [%s]: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("carrier error [%s]: %s", e.Kind, e.Detail)
}

func (e *CarrierError) Unwrap() error { return e.Cause }

func NewCarrierError(kind CarrierErrorKind, detail string, cause error) *CarrierError {
	return &CarrierError{Kind: kind, Detail: detail, Cause: cause}
}

// AuthErrorKind enumerates webhook/upgrade authentication failures.
type AuthErrorKind string

const (
	AuthBadSignature   AuthErrorKind = "bad_signature"
	AuthBadToken       AuthErrorKind = "bad_token"
	AuthStaleTimestamp AuthErrorKind = "stale_timestamp"
)

// AuthError is terminal for the request that triggered it but never for
// the session it would have bound to.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error [%s]", e.Kind) }

func NewAuthError(kind AuthErrorKind) *AuthError { return &AuthError{Kind: kind} }

// MediaErrorKind enumerates media-socket failures.
type MediaErrorKind string

const (
	MediaNotReady     MediaErrorKind = "not_ready"
	MediaSocketClosed MediaErrorKind = "socket_closed"
)

type MediaError struct {
	Kind MediaErrorKind
}

func (e *MediaError) Error() string { return fmt.Sprintf("media error [%s]", e.Kind) }

func NewMediaError(kind MediaErrorKind) *MediaError { return &MediaError{Kind: kind} }

// AgentErrorKind enumerates speech-agent failures.
type AgentErrorKind string

const (
	AgentConnectFailed AgentErrorKind = "connect_failed"
	AgentStreamError   AgentErrorKind = "stream_error"
	AgentProtocolError AgentErrorKind = "protocol_error"
)

type AgentError struct {
	Kind  AgentErrorKind
	Cause error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent error [%s]: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("agent error [%s]", e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Cause }

func NewAgentError(kind AgentErrorKind, cause error) *AgentError {
	return &AgentError{Kind: kind, Cause: cause}
}

// TimeoutError reports which bounded wait expired.
type TimeoutError struct {
	What string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout waiting for %s", e.What) }

func NewTimeoutError(what string) *TimeoutError { return &TimeoutError{What: what} }

// HangupError signals the call ended while something was waiting on it.
type HangupError struct{}

func (e *HangupError) Error() string { return "call was hung up" }

// ToolError is returned to the model as a tool result, never kills the
// session.
type ToolError struct {
	Name  string
	Cause error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %q failed: %v", e.Name, e.Cause) }
func (e *ToolError) Unwrap() error  { return e.Cause }

// AsToolResult renders the error as the "Error: " prefixed tool-result
// string the model sees.
func (e *ToolError) AsToolResult() string {
	return fmt.Sprintf("Error: %v", e.Cause)
}

// SessionNotFound is returned when a Driver command references an unknown
// callId.
type SessionNotFound struct {
	CallID string
}

func (e *SessionNotFound) Error() string { return fmt.Sprintf("session not found: %s", e.CallID) }

// ConfigError aggregates every missing/invalid startup configuration field
// so the operator can fix all of them at once rather than one at a time.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration, missing/invalid fields: %v", e.Missing)
}
