// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callsession

import (
	"context"
	"fmt"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/speechagent"
)

// onAgentAudio drains one 24kHz PCM chunk from the speech agent into the
// jitter buffer and flushes every full frame it now yields to the writer.
func (s *CallSession) onAgentAudio(pcm24k []byte) {
	s.setState(StateSpeakingAgent)
	s.jitter.PushPCM24k(pcm24k)
	for {
		frame, ok := s.jitter.PopFrame()
		if !ok {
			break
		}
		s.writer.enqueueAudio(frame)
	}
}

// onAgentText records a transcript line and, for the user's side, resolves
// whoever is waiting on this turn.
func (s *CallSession) onAgentText(text string, role speechagent.Role) {
	switch role {
	case speechagent.RoleUser:
		s.appendTranscript(SpeakerUser, text)
		s.resolveUserTurn(text)
	case speechagent.RoleAssistant:
		s.appendTranscript(SpeakerAgent, text)
	}
}

// onAgentToolUse dispatches one tool call and feeds the result back to the
// agent stream, tracking TOOL_CALL state for the duration.
func (s *CallSession) onAgentToolUse(name, id string, input map[string]interface{}) {
	if s.tools == nil {
		_ = s.agent.SendToolResult(id, "Error: no tools configured")
		return
	}
	s.setState(StateToolCall)
	go func() {
		defer s.setState(StateReady)
		out, err := s.tools.Call(context.Background(), name, input)
		if err != nil {
			if te, ok := err.(*callerr.ToolError); ok {
				out = te.AsToolResult()
			} else {
				out = fmt.Sprintf("Error: %v", err)
			}
		}
		if err := s.agent.SendToolResult(id, out); err != nil {
			s.logger.Warnw("send tool result failed", "error", err.Error())
		}
	}()
}

func (s *CallSession) onAgentTurnComplete() {
	if isReadyOrSubstate(s.State()) {
		s.setState(StateReady)
	}
}

// onAgentInterruption fires when the model detects the caller spoke over
// it; flush the jitter buffer and tell the carrier to clear its playback.
func (s *CallSession) onAgentInterruption() {
	s.jitter.Flush()
	s.writer.drainAudio()
	s.writer.enqueueClear()
	s.setState(StateListeningUser)
}
