// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tool implements a process-lifetime, read-only set of named
// tools, each backed by a process-side executor that is given a deadline.
package tool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/callbridge/internal/callerr"
)

// Definition describes one tool the model may call: its name, human
// description, and JSON schema for the input object.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Executor maps (name, input) to (output, isError). Executors may be
// I/O-bound; Call gives each one a deadline.
type Executor func(ctx context.Context, input map[string]interface{}) (output string, isError bool)

// Config is the read-only, process-lifetime tool set.
type Config struct {
	definitions []Definition
	executors   map[string]Executor
	deadline    time.Duration
}

// NewConfig builds a ToolConfig. deadline bounds every individual
// executor invocation (default 10s if zero).
func NewConfig(deadline time.Duration) *Config {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &Config{executors: make(map[string]Executor), deadline: deadline}
}

// Register adds one tool with its executor.
func (c *Config) Register(def Definition, exec Executor) {
	c.definitions = append(c.definitions, def)
	c.executors[def.Name] = exec
}

// Definitions returns the ordered tool set for the speech model's
// prompt-start or the split-brain LLM brain's tool list.
func (c *Config) Definitions() []Definition {
	return c.definitions
}

// Call invokes a single tool under the configured deadline.
func (c *Config) Call(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	exec, ok := c.executors[name]
	if !ok {
		return "", &callerr.ToolError{Name: name, Cause: fmt.Errorf("unknown tool")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	resultCh := make(chan struct {
		out     string
		isError bool
	}, 1)
	go func() {
		out, isError := exec(ctx, input)
		resultCh <- struct {
			out     string
			isError bool
		}{out, isError}
	}()

	select {
	case r := <-resultCh:
		if r.isError {
			return "", &callerr.ToolError{Name: name, Cause: fmt.Errorf("%s", r.out)}
		}
		return r.out, nil
	case <-ctx.Done():
		return "", &callerr.ToolError{Name: name, Cause: ctx.Err()}
	}
}

// Use is one requested tool invocation, as surfaced by the speech agent
// or the split-brain LLM brain.
type Use struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Result pairs a tool use with its outcome string, ready to feed back to
// whichever conversational backend requested it.
type Result struct {
	ID     string
	Output string
}

// DispatchAll executes every tool use concurrently — multiple tool uses
// in one turn are supported concurrently — and collects results in input
// order, using the same errgroup-based fan-out idiom the rest of this
// codebase uses for concurrent work.
func (c *Config) DispatchAll(ctx context.Context, uses []Use) []Result {
	results := make([]Result, len(uses))
	g, gCtx := errgroup.WithContext(ctx)
	for i, u := range uses {
		i, u := i, u
		g.Go(func() error {
			out, err := c.Call(gCtx, u.Name, u.Input)
			if err != nil {
				if te, ok := err.(*callerr.ToolError); ok {
					out = te.AsToolResult()
				} else {
					out = fmt.Sprintf("Error: %v", err)
				}
			}
			results[i] = Result{ID: u.ID, Output: out}
			return nil // a single tool failure never aborts the others
		})
	}
	_ = g.Wait()
	return results
}
