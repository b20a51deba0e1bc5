// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llm implements the LLM brain half of the split-brain pipeline:
// a thin wrapper around anthropic-sdk-go's tool-loop contract.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rapidaai/callbridge/internal/tool"
)

const (
	DefaultModel     = anthropic.ModelClaude3_5SonnetLatest
	DefaultMaxTokens = 1024
)

// ToolUse is one tool invocation the model requested in its last turn.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Response is the brain's normalized reply, carrying its stop reason.
type Response struct {
	Text       string
	ToolUses   []ToolUse
	StopReason string // "end_turn" | "tool_use"
}

// Brain wraps a remote chat/tool API behind the respond/handleToolResults/
// injectContext contract the call session's conversation loop drives.
type Brain struct {
	client       anthropic.Client
	model        anthropic.Model
	maxTokens    int64
	systemPrompt string
	toolDefs     []tool.Definition

	mu      sync.Mutex
	history []anthropic.MessageParam
}

// Option configures a Brain.
type Option func(*Brain)

func WithModel(model anthropic.Model) Option  { return func(b *Brain) { b.model = model } }
func WithMaxTokens(n int64) Option            { return func(b *Brain) { b.maxTokens = n } }
func WithSystemPrompt(p string) Option        { return func(b *Brain) { b.systemPrompt = p } }
func WithTools(defs []tool.Definition) Option { return func(b *Brain) { b.toolDefs = defs } }

// New builds a Brain with the given API key.
func New(apiKey string, opts ...Option) *Brain {
	b := &Brain{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Brain) anthropicTools() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(b.toolDefs))
	for _, d := range b.toolDefs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: d.InputSchema["properties"],
				},
			},
		})
	}
	return out
}

// Respond sends userText as a new user turn and returns the model's reply.
func (b *Brain) Respond(ctx context.Context, userText string) (Response, error) {
	b.mu.Lock()
	b.history = append(b.history, anthropic.NewUserMessage(anthropic.NewTextBlock(userText)))
	b.mu.Unlock()
	return b.complete(ctx)
}

// InjectContext appends a system-originated out-of-band note (e.g. a
// Driver-supplied message) and returns the model's reply.
//
// The note is framed as "[System: <text>]" and passed to Respond; the
// framing is fixed, and no parameter or option changes it.
func (b *Brain) InjectContext(ctx context.Context, text string) (Response, error) {
	return b.Respond(ctx, fmt.Sprintf("[System: %s]", text))
}

// HandleToolResults feeds the outcomes of a round of tool uses back to the
// model and returns its next reply.
func (b *Brain) HandleToolResults(ctx context.Context, results []tool.Result) (Response, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Output, false))
	}
	b.mu.Lock()
	b.history = append(b.history, anthropic.NewUserMessage(blocks...))
	b.mu.Unlock()
	return b.complete(ctx)
}

func (b *Brain) complete(ctx context.Context) (Response, error) {
	b.mu.Lock()
	history := append([]anthropic.MessageParam(nil), b.history...)
	b.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Messages:  history,
		Tools:     b.anthropicTools(),
	}
	if b.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: b.systemPrompt}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	b.mu.Lock()
	b.history = append(b.history, msg.ToParam())
	b.mu.Unlock()

	resp := Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			input := map[string]interface{}{}
			if err := json.Unmarshal(variant.Input, &input); err != nil {
				input = map[string]interface{}{"raw": string(variant.Input)}
			}
			resp.ToolUses = append(resp.ToolUses, ToolUse{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return resp, nil
}
