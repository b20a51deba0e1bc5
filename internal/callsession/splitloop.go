// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package callsession

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/splitbrain/llm"
	"github.com/rapidaai/callbridge/internal/tool"
)

// splitTranscriptCap bounds how many finished utterances can be queued
// for the conversation loop before new ones are dropped with a warning —
// in practice the loop drains far faster than a caller can speak.
const splitTranscriptCap = 4

// onSTTTranscript is the STT pipeline's callback for one finished
// utterance; it records the line, resolves any Driver command waiting on
// this turn, and hands the text to the conversation loop.
func (s *CallSession) onSTTTranscript(text string) {
	s.appendTranscript(SpeakerUser, text)
	s.resolveUserTurn(text)

	select {
	case s.sttTranscriptCh() <- text:
	default:
		s.logger.Warnw("split conversation loop backlogged, dropping utterance")
	}
}

// sttTranscriptCh returns the conversation loop's transcript channel,
// creating it on first use; CallSession.New doesn't allocate it, so a
// session that never runs the loop never allocates it either.
func (s *CallSession) sttTranscriptCh() chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sttChInternal == nil {
		s.sttChInternal = make(chan string, splitTranscriptCap)
	}
	return s.sttChInternal
}

// splitConversationLoop drives listen -> brain -> speak -> repeat for the
// lifetime of a split-mode call, independent of any Driver command.
func (s *CallSession) splitConversationLoop(ctx context.Context) {
	ch := s.sttTranscriptCh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hungUpCh:
			return
		case text := <-ch:
			s.setState(StateListeningUser)
			resp, err := s.brain.Respond(ctx, text)
			if err != nil {
				s.logger.Warnw("brain respond failed", "error", err.Error())
				continue
			}
			resp, err = s.runToolLoop(ctx, resp)
			if err != nil {
				s.logger.Warnw("brain tool loop failed", "error", err.Error())
				continue
			}
			if err := s.speakSplit(resp.Text); err != nil {
				s.logger.Warnw("speak failed", "error", err.Error())
			}
		}
	}
}

// runToolLoop resolves a chain of tool_use stop reasons to a final text
// reply, dispatching every round's tool uses concurrently.
func (s *CallSession) runToolLoop(ctx context.Context, resp llm.Response) (llm.Response, error) {
	for resp.StopReason == "tool_use" && len(resp.ToolUses) > 0 {
		s.setState(StateToolCall)
		uses := make([]tool.Use, 0, len(resp.ToolUses))
		for _, tu := range resp.ToolUses {
			uses = append(uses, tool.Use{ID: tu.ID, Name: tu.Name, Input: tu.Input})
		}

		var results []tool.Result
		if s.tools != nil {
			results = s.tools.DispatchAll(ctx, uses)
		} else {
			results = make([]tool.Result, len(uses))
			for i, u := range uses {
				results[i] = tool.Result{ID: u.ID, Output: (&callerr.ToolError{Name: u.Name, Cause: fmt.Errorf("no tools configured")}).AsToolResult()}
			}
		}

		next, err := s.brain.HandleToolResults(ctx, results)
		if err != nil {
			return resp, err
		}
		resp = next
	}
	if isReadyOrSubstate(s.State()) {
		s.setState(StateReady)
	}
	return resp, nil
}

// speakSplit streams text through the TTS client under a fresh context id.
func (s *CallSession) speakSplit(text string) error {
	s.appendTranscript(SpeakerAgent, text)
	if text == "" {
		return nil
	}
	s.setState(StateSpeakingAgent)

	s.mu.Lock()
	s.ttsContext++
	ctxID := "turn-" + strconv.Itoa(s.ttsContext)
	s.mu.Unlock()

	return s.ttsClient.Speak(ctxID, text, true)
}

// onTTSAudio drains one 24kHz PCM chunk from the TTS client into the
// jitter buffer and flushes every full frame it now yields.
func (s *CallSession) onTTSAudio(contextID string, pcm24k []byte) {
	s.jitter.PushPCM24k(pcm24k)
	for {
		frame, ok := s.jitter.PopFrame()
		if !ok {
			break
		}
		s.writer.enqueueAudio(frame)
	}
}

// onTTSComplete flushes any zero-padded tail frame and returns to READY.
func (s *CallSession) onTTSComplete(contextID string) {
	if frame, ok := s.jitter.Flush(); ok {
		s.writer.enqueueAudio(frame)
	}
	if isReadyOrSubstate(s.State()) {
		s.setState(StateReady)
	}
}
