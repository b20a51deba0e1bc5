// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callbridge/internal/audio"
	"github.com/rapidaai/callbridge/internal/logging"
)

func loudFrame() []byte {
	pcm := make([]int16, 160)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 9000
		} else {
			pcm[i] = -9000
		}
	}
	return audio.MuLawEncode(pcm)
}

func silentFrame() []byte {
	pcm := make([]int16, 160)
	return audio.MuLawEncode(pcm)
}

func TestPipeline_EndOfUtteranceTriggersTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer srv.Close()

	transcriptCh := make(chan string, 1)
	p := New(logging.NewNop(), resty.New(), srv.URL, WithSilenceMS(100), WithOnTranscript(func(text string) {
		transcriptCh <- text
	}))

	ctx := context.Background()
	// 320ms of speech (16 frames @ 20ms), then 140ms of silence (7 frames).
	for i := 0; i < 16; i++ {
		p.PushFrame(ctx, loudFrame())
	}
	for i := 0; i < 7; i++ {
		p.PushFrame(ctx, silentFrame())
	}

	select {
	case text := <-transcriptCh:
		assert.Equal(t, "hello there", text)
	case <-time.After(time.Second):
		t.Fatal("onTranscript never fired")
	}
}

func TestPipeline_ShortSpeechNeverTriggersUtterance(t *testing.T) {
	called := false
	p := New(logging.NewNop(), resty.New(), "http://unused.invalid", WithOnTranscript(func(text string) {
		called = true
	}))

	ctx := context.Background()
	// Only 2 loud frames (40ms), well under MIN_SPEECH_MS.
	p.PushFrame(ctx, loudFrame())
	p.PushFrame(ctx, loudFrame())
	for i := 0; i < 50; i++ {
		p.PushFrame(ctx, silentFrame())
	}

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestPipeline_TranscribingFlagPreventsOverlap(t *testing.T) {
	requests := make(chan struct{}, 10)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	p := New(logging.NewNop(), resty.New(), srv.URL, WithSilenceMS(40))
	ctx := context.Background()

	feedUtterance := func() {
		for i := 0; i < 16; i++ {
			p.PushFrame(ctx, loudFrame())
		}
		for i := 0; i < 3; i++ {
			p.PushFrame(ctx, silentFrame())
		}
	}

	feedUtterance()
	require.Eventually(t, func() bool { return len(requests) == 1 }, time.Second, 10*time.Millisecond)

	// A second utterance while the first POST is still in flight must not
	// start a second concurrent POST.
	feedUtterance()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, len(requests))

	close(release)
}
