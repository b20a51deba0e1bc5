// Copyright (c) Rapida
// Author: Prashant <prashant@rapida.ai>
//
// Licensed under the Rapida internal use license.
// This file is part of Rapida's proprietary software.
// Unauthorized copying, modification, or redistribution is strictly prohibited.

// Package mcp adapts tools served by an MCP server into the tool.Executor
// contract, so a ToolConfig can mix process-local Go functions with
// remotely-hosted MCP tools transparently.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	callbridgetool "github.com/rapidaai/callbridge/internal/tool"
)

// Caller lists the tools exposed by one MCP server and adapts each into a
// callbridge tool.Definition + tool.Executor pair.
type Caller struct {
	name   string
	client *client.Client
}

// NewCaller wraps an already-initialized MCP client.
func NewCaller(name string, c *client.Client) *Caller {
	return &Caller{name: name, client: c}
}

// Name returns the MCP server's logical name.
func (c *Caller) Name() string { return c.name }

// Tools lists the server's tools and returns an executor for each,
// suitable for callbridgetool.Config.Register.
func (c *Caller) Tools(ctx context.Context) ([]callbridgetool.Definition, map[string]callbridgetool.Executor, error) {
	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, nil, fmt.Errorf("mcp %s: list tools: %w", c.name, err)
	}

	defs := make([]callbridgetool.Definition, 0, len(resp.Tools))
	execs := make(map[string]callbridgetool.Executor, len(resp.Tools))
	for _, t := range resp.Tools {
		t := t
		schema := map[string]interface{}{
			"type":       "object",
			"properties": t.InputSchema.Properties,
			"required":   t.InputSchema.Required,
		}
		defs = append(defs, callbridgetool.Definition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
		execs[t.Name] = c.executorFor(t.Name)
	}
	return defs, execs, nil
}

func (c *Caller) executorFor(name string) callbridgetool.Executor {
	return func(ctx context.Context, input map[string]interface{}) (string, bool) {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = input

		res, err := c.client.CallTool(ctx, req)
		if err != nil {
			return err.Error(), true
		}
		if res.IsError {
			return renderContent(res.Content), true
		}
		return renderContent(res.Content), false
	}
}

func renderContent(content []mcp.Content) string {
	out := ""
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
