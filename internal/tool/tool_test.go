// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Call_Success(t *testing.T) {
	c := NewConfig(time.Second)
	c.Register(Definition{Name: "echo"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		return input["msg"].(string), false
	})

	out, err := c.Call(context.Background(), "echo", map[string]interface{}{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestConfig_Call_UnknownTool(t *testing.T) {
	c := NewConfig(time.Second)
	_, err := c.Call(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestConfig_Call_ExecutorError(t *testing.T) {
	c := NewConfig(time.Second)
	c.Register(Definition{Name: "fails"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		return "boom", true
	})

	_, err := c.Call(context.Background(), "fails", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestConfig_Call_DeadlineEnforced(t *testing.T) {
	c := NewConfig(20 * time.Millisecond)
	c.Register(Definition{Name: "slow"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		select {
		case <-time.After(time.Second):
			return "too late", false
		case <-ctx.Done():
			return "", true
		}
	})

	start := time.Now()
	_, err := c.Call(context.Background(), "slow", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 500*time.Millisecond, "call should fail fast on deadline, not wait for the executor")
}

func TestConfig_DispatchAll_ConcurrentAndOrdered(t *testing.T) {
	c := NewConfig(time.Second)
	c.Register(Definition{Name: "double"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		n := input["n"].(int)
		return string(rune('0' + n*2)), false
	})

	uses := []Use{
		{ID: "1", Name: "double", Input: map[string]interface{}{"n": 1}},
		{ID: "2", Name: "double", Input: map[string]interface{}{"n": 2}},
		{ID: "3", Name: "double", Input: map[string]interface{}{"n": 3}},
	}

	results := c.DispatchAll(context.Background(), uses)
	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "2", results[1].ID)
	assert.Equal(t, "3", results[2].ID)
}

func TestConfig_DispatchAll_OneFailureDoesNotAbortOthers(t *testing.T) {
	c := NewConfig(time.Second)
	c.Register(Definition{Name: "ok"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		return "fine", false
	})
	c.Register(Definition{Name: "bad"}, func(ctx context.Context, input map[string]interface{}) (string, bool) {
		return "nope", true
	})

	uses := []Use{
		{ID: "a", Name: "ok"},
		{ID: "b", Name: "bad"},
		{ID: "c", Name: "ok"},
	}

	results := c.DispatchAll(context.Background(), uses)
	require.Len(t, results, 3)
	assert.Equal(t, "fine", results[0].Output)
	assert.Contains(t, results[1].Output, "Error:")
	assert.Equal(t, "fine", results[2].Output)
}

func TestConfig_Definitions_PreservesRegistrationOrder(t *testing.T) {
	c := NewConfig(time.Second)
	c.Register(Definition{Name: "first"}, func(ctx context.Context, input map[string]interface{}) (string, bool) { return "", false })
	c.Register(Definition{Name: "second"}, func(ctx context.Context, input map[string]interface{}) (string, bool) { return "", false })

	defs := c.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Name)
	assert.Equal(t, "second", defs[1].Name)
}
