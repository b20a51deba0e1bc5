// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package speechagent implements the Speech Agent: a bidirectional
// session abstraction over the cloud speech-to-speech model, consumed by
// the call session in unified mode.
package speechagent

import "encoding/json"

// Role identifies which side of the conversation a content block belongs
// to.
type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleTool      Role = "TOOL"
)

// ContentType identifies the modality of a content block.
type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentAudio ContentType = "AUDIO"
	ContentTool  ContentType = "TOOL"
)

// StopReason is carried on contentEnd; INTERRUPTED drives barge-in.
type StopReason string

const (
	StopReasonEnd         StopReason = "END_TURN"
	StopReasonInterrupted StopReason = "INTERRUPTED"
)

// outboundEvent is the envelope for every client->model message: a
// discriminant event name plus an event-specific body.
type outboundEvent struct {
	Event string      `json:"event"`
	Body  interface{} `json:"body,omitempty"`
}

type sessionStartBody struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

type audioOutputConfig struct {
	MediaType  string `json:"mediaType"` // "SPEECH"
	Encoding   string `json:"encoding"`  // "base64"
	SampleRate int    `json:"sampleRateHz"`
	BitDepth   int    `json:"bitDepth"`
	Channels   int    `json:"channels"`
	Voice      string `json:"voice"`
}

type audioInputConfig struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRateHz"`
	BitDepth   int    `json:"bitDepth"`
	Channels   int    `json:"channels"`
}

type textOutputConfig struct {
	MediaType string `json:"mediaType"` // "TEXT"
}

type toolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type promptStartBody struct {
	AudioOutputConfig audioOutputConfig `json:"audioOutputConfig"`
	TextOutputConfig  textOutputConfig  `json:"textOutputConfig"`
	Tools             []toolSpec        `json:"tools,omitempty"`
}

type contentStartBody struct {
	ContentID   string            `json:"contentId"`
	Role        Role              `json:"role"`
	Type        ContentType       `json:"type"`
	Interactive bool              `json:"interactive"`
	InputConfig *audioInputConfig `json:"inputConfig,omitempty"`
	ToolUseID   string            `json:"toolUseId,omitempty"`
}

type textInputBody struct {
	ContentID string `json:"contentId"`
	Text      string `json:"text"`
}

type audioInputBody struct {
	ContentID string `json:"contentId"`
	Audio     []byte `json:"audio"` // base64 via encoding/json
}

type toolResultBody struct {
	ContentID string `json:"contentId"`
	Content   string `json:"content"`
}

type contentEndBody struct {
	ContentID string `json:"contentId"`
}

type promptEndBody struct{}
type sessionEndBody struct{}

// inboundEvent is the envelope for every model->client message; Body is
// decoded per Event once the discriminant is known.
type inboundEvent struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

type contentStartIn struct {
	ContentID string      `json:"contentId"`
	Role      Role        `json:"role"`
	Type      ContentType `json:"type"`
}

type audioOutputIn struct {
	ContentID string `json:"contentId"`
	Audio     []byte `json:"audio"`
}

type textOutputIn struct {
	ContentID string `json:"contentId"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
}

type toolUseIn struct {
	ContentID string `json:"contentId"`
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Content   string `json:"content"` // incremental fragment; accumulated across events
}

type contentEndIn struct {
	ContentID  string      `json:"contentId"`
	Type       ContentType `json:"type,omitempty"`
	StopReason StopReason  `json:"stopReason,omitempty"`
}

type completionEndIn struct{}

type usageEventIn struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type modelStreamErrorIn struct {
	Message string `json:"message"`
}

type internalServerErrorIn struct {
	Message string `json:"message"`
}
