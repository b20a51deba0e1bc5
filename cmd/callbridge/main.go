// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command callbridge is the call bridge process: it serves carrier
// webhooks and the media WebSocket over HTTP, and exposes the Driver tool
// surface over stdio, until told to shut down.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/callbridge/internal/callmanager"
	"github.com/rapidaai/callbridge/internal/callsession"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/carrier/twilio"
	"github.com/rapidaai/callbridge/internal/carrier/vonage"
	"github.com/rapidaai/callbridge/internal/config"
	"github.com/rapidaai/callbridge/internal/driver"
	"github.com/rapidaai/callbridge/internal/logging"
	"github.com/rapidaai/callbridge/internal/splitbrain/llm"
	"github.com/rapidaai/callbridge/internal/tool"

	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "callbridge:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	carrierPort, err := buildCarrier(logger, cfg)
	if err != nil {
		return fmt.Errorf("build carrier: %w", err)
	}

	tools := tool.NewConfig(15 * time.Second)
	factory := buildSessionFactory(logger, cfg, carrierPort, tools)

	manager := callmanager.New(logger, carrierPort, factory, callmanager.Options{
		CarrierKind:           carrier.Kind(cfg.Carrier),
		CarrierAuthToken:      cfg.CarrierAuthToken,
		CarrierEd25519PubKey:  decodeEd25519PubKey(cfg.CarrierPublicKey),
		WebhookURL:            cfg.PublicURL + "/twiml",
		WebSocketBaseURL:      websocketBaseURL(cfg),
		TrustWithoutSignature: cfg.TrustWithoutSignature,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: manager.Router(),
	}

	driverServer := driver.New(logger, manager).Server("callbridge", "0.1.0")

	errCh := make(chan error, 2)
	go func() {
		logger.Infow("http listener starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()
	go func() {
		if err := server.ServeStdio(driverServer); err != nil {
			errCh <- fmt.Errorf("driver stdio server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Errorw("fatal listener error", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), callmanager.ShutdownGrace+2*time.Second)
	defer cancel()

	manager.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

func buildCarrier(logger logging.Logger, cfg *config.AppConfig) (carrier.Port, error) {
	switch cfg.Carrier {
	case config.CarrierA:
		return twilio.New(logger, cfg.CarrierAccountSID, cfg.CarrierAuthToken), nil
	case config.CarrierB:
		return vonage.New(logger, cfg.CarrierAccountSID, []byte(cfg.CarrierPrivateKey))
	default:
		return nil, fmt.Errorf("unknown carrier kind %q", cfg.Carrier)
	}
}

// buildSessionFactory bakes the mode-specific configuration (unified agent
// vs. split STT/LLM/TTS pipeline) into every CallSession this process
// creates.
func buildSessionFactory(logger logging.Logger, cfg *config.AppConfig, carrierPort carrier.Port, tools *tool.Config) callmanager.SessionFactory {
	httpClient := resty.New().SetTimeout(30 * time.Second)

	var brain *llm.Brain
	if cfg.VoiceMode == config.ModeSplitWithLLM {
		brain = llm.New(os.Getenv("ANTHROPIC_API_KEY"),
			llm.WithSystemPrompt(cfg.LLMBrainSystemMsg),
			llm.WithMaxTokens(1024),
			llm.WithTools(tools.Definitions()),
		)
	}

	return func(callID string, onPlaced func(string)) *callsession.CallSession {
		sessCfg := callsession.Config{
			Logger:            logger.With("callId", callID),
			Carrier:           carrierPort,
			Tools:             tools,
			UserNumber:        cfg.UserNumber,
			CallerNumber:      cfg.FromNumber,
			WebhookURL:        cfg.PublicURL + "/twiml",
			MediaReadyTimeout: time.Duration(cfg.MediaReadyTimeoutMS) * time.Millisecond,
			TurnTimeout:       time.Duration(cfg.TurnTimeoutMS) * time.Millisecond,
			OnPlaced:          onPlaced,
		}

		switch cfg.VoiceMode {
		case config.ModeUnified:
			sessCfg.Mode = callsession.ModeUnified
			sessCfg.AgentWsURL = cfg.UnifiedWsURL
			sessCfg.AgentSystemPrompt = cfg.SystemPrompt
			sessCfg.AgentVoice = cfg.UnifiedVoiceID
			sessCfg.AgentMaxTokens = cfg.UnifiedInference.MaxTokens
			sessCfg.AgentTemperature = cfg.UnifiedInference.Temperature
			sessCfg.AgentTopP = cfg.UnifiedInference.TopP
		default:
			sessCfg.Mode = callsession.ModeSplit
			sessCfg.STTHTTPClient = httpClient
			sessCfg.STTEndpoint = cfg.STTEndpointURL
			sessCfg.STTSilenceMS = cfg.VADSilenceMS
			sessCfg.Brain = brain
			sessCfg.TTSWsURL = cfg.TTSEndpointURL
			sessCfg.TTSVoiceID = cfg.TTSVoice
		}

		return callsession.New(callID, sessCfg)
	}
}

func websocketBaseURL(cfg *config.AppConfig) string {
	if cfg.WebSocketURL != "" {
		return cfg.WebSocketURL
	}
	return cfg.PublicURL
}

func decodeEd25519PubKey(encoded string) ed25519.PublicKey {
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(raw)
}
