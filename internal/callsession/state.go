// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callsession implements the Call Session: the per-call
// state machine owning the carrier media socket and either the unified
// speech agent or the split-brain pipeline.
package callsession

// State is one point in the call lifecycle.
type State string

const (
	StateNew              State = "NEW"
	StatePlacing          State = "PLACING"
	StateRinging          State = "RINGING"
	StateConnectingMedia  State = "CONNECTING_MEDIA"
	StateReady            State = "READY"
	StateSpeakingAgent    State = "SPEAKING_AGENT"
	StateListeningUser    State = "LISTENING_USER"
	StateToolCall         State = "TOOL_CALL"
	StateEnding           State = "ENDING"
	StateEnded            State = "ENDED"
	StateFailed           State = "FAILED"
)

// readySubstates are the states treated as "READY or a substate thereof"
// — the only states in which continue/speak/end are accepted.
var readySubstates = map[State]bool{
	StateReady:         true,
	StateSpeakingAgent: true,
	StateListeningUser: true,
	StateToolCall:      true,
}

// isReadyOrSubstate reports whether a state accepts continue/speak/end.
func isReadyOrSubstate(s State) bool { return readySubstates[s] }

// Mode selects which conversational backend a session uses.
type Mode string

const (
	ModeUnified Mode = "unified"
	ModeSplit   Mode = "split"
)

// Speaker identifies which side produced a transcript entry.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)
