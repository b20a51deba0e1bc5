// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the call bridge's process-wide configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rapidaai/callbridge/internal/callerr"
)

// VoiceMode selects the conversational backend.
type VoiceMode string

const (
	ModeUnified          VoiceMode = "unified"
	ModeSplitWithLLM     VoiceMode = "split-with-LLM-brain"
	ModeSplitSTTTTSOnly  VoiceMode = "split-with-stt-tts-only"
)

// CarrierKind selects the telephony carrier.
type CarrierKind string

const (
	CarrierA CarrierKind = "A" // Twilio-shaped
	CarrierB CarrierKind = "B" // Vonage-shaped
)

// InferenceParams are the unified speech model's session-start parameters,
// sent as the first message of the setup sequence.
type InferenceParams struct {
	MaxTokens   int     `mapstructure:"max_tokens" validate:"required"`
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
}

// AppConfig is the process-wide configuration.
type AppConfig struct {
	Port int    `mapstructure:"port" validate:"required"`
	Host string `mapstructure:"host" validate:"required"`

	Carrier           CarrierKind `mapstructure:"carrier" validate:"required,oneof=A B"`
	CarrierAccountSID string      `mapstructure:"carrier_account_sid"`
	CarrierAuthToken  string      `mapstructure:"carrier_auth_token"`
	CarrierPublicKey  string      `mapstructure:"carrier_public_key"`
	CarrierPrivateKey string      `mapstructure:"carrier_private_key"` // carrier B REST auth (PEM)
	FromNumber        string      `mapstructure:"from_number" validate:"required"`
	UserNumber        string      `mapstructure:"user_number" validate:"required"`

	VoiceMode VoiceMode `mapstructure:"voice_mode" validate:"required,oneof='unified' 'split-with-LLM-brain' 'split-with-stt-tts-only'"`

	UnifiedModelID   string          `mapstructure:"unified_model_id"`
	UnifiedVoiceID   string          `mapstructure:"unified_voice_id"`
	UnifiedWsURL     string          `mapstructure:"unified_ws_url"`
	UnifiedInference InferenceParams `mapstructure:"unified_inference"`
	SystemPrompt     string          `mapstructure:"system_prompt"`

	LLMBrainModelID   string `mapstructure:"llm_brain_model_id"`
	LLMBrainRegion    string `mapstructure:"llm_brain_region"`
	LLMBrainSystemMsg string `mapstructure:"llm_brain_system_prompt"`

	STTEndpointURL string `mapstructure:"stt_endpoint_url"`
	TTSEndpointURL string `mapstructure:"tts_endpoint_url"`
	TTSVoice       string `mapstructure:"tts_voice"`
	TTSModel       string `mapstructure:"tts_model"`

	VADSilenceMS       int `mapstructure:"vad_silence_ms"`
	VADEnergyThreshold int `mapstructure:"vad_energy_threshold"`

	TurnTimeoutMS         int `mapstructure:"turn_timeout_ms" validate:"required"`
	MediaReadyTimeoutMS   int `mapstructure:"media_ready_timeout_ms" validate:"required"`

	PublicURL   string `mapstructure:"public_url" validate:"required"`
	WebSocketURL string `mapstructure:"websocket_url"`

	TrustWithoutSignature bool `mapstructure:"trust_without_signature"`
}

// Load reads configuration from the environment (and an optional .env
// file), applies defaults, and validates the result. On failure it
// returns a *callerr.ConfigError enumerating every invalid/missing field.
func Load() (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	_ = v.ReadInConfig() // absence of a .env file is fine, env vars still apply

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("VOICE_MODE", string(ModeUnified))
	v.SetDefault("UNIFIED_INFERENCE__MAX_TOKENS", 1024)
	v.SetDefault("UNIFIED_INFERENCE__TEMPERATURE", 0.7)
	v.SetDefault("UNIFIED_INFERENCE__TOP_P", 0.9)
	v.SetDefault("VAD_SILENCE_MS", 800)
	v.SetDefault("VAD_ENERGY_THRESHOLD", 500)
	v.SetDefault("TURN_TIMEOUT_MS", 180_000)
	v.SetDefault("MEDIA_READY_TIMEOUT_MS", 15_000)
	v.SetDefault("TRUST_WITHOUT_SIGNATURE", false)
}

func validateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err == nil {
		return nil
	} else if verrs, ok := err.(validator.ValidationErrors); ok {
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, fe.Namespace())
		}
		return &callerr.ConfigError{Missing: missing}
	} else {
		return err
	}
}
