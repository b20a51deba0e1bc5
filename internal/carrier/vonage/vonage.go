// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package vonage implements the carrier.Port for carrier B: JSON webhooks
// signed with Ed25519, and an explicit REST call to start the media
// stream once the answer event has arrived.
//
// The upstream carrier B wire contract (Telnyx-shaped JSON webhooks,
// Ed25519 signatures) has no Telnyx SDK among our dependencies, so call
// placement and the media-stream start are wired against vonage-go-sdk's
// voice API, whose request/response shapes this adapter adapts to the
// same carrier.Port contract every other variant implements. The webhook
// parsing and signature verification (internal/carrier.ParseCarrierB,
// internal/webhookauth.VerifyCarrierB) remain carrier-B-shaped regardless
// of which REST client places the call.
package vonage

import (
	"context"
	"fmt"

	vng "github.com/vonage/vonage-go-sdk"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/logging"
)

// Adapter is the carrier B implementation of carrier.Port.
type Adapter struct {
	logger logging.Logger
	voice  *vng.VoiceClient
}

// New builds an Adapter from an application's private key and application
// ID, the credential pair used for the carrier's JWT-bearing REST calls.
func New(logger logging.Logger, applicationId string, privateKey []byte) (*Adapter, error) {
	auth, err := vng.CreateAuthFromAppPrivateKey(applicationId, privateKey)
	if err != nil {
		return nil, fmt.Errorf("vonage auth: %w", err)
	}
	voice := vng.NewVoiceClient(auth)
	return &Adapter{logger: logger, voice: voice}, nil
}

func (a *Adapter) Kind() carrier.Kind { return carrier.KindB }

// PlaceOutbound originates a call with an answer webhook pointed at
// webhookUrl; media streaming is started separately via StartMediaStream
// once the answered event arrives — this carrier does not start media
// streaming at call-placement time.
func (a *Adapter) PlaceOutbound(ctx context.Context, to, from, webhookUrl string) (string, error) {
	result, _, err := a.voice.CreateCall(vng.CreateCallReq{
		To: []vng.CallTo{{Type: "phone", Number: to}},
		From: vng.CallFrom{
			Type:   "phone",
			Number: from,
		},
		AnswerUrl: []string{webhookUrl},
		EventUrl:  []string{webhookUrl},
	})
	if err != nil {
		return "", callerr.NewCarrierError(callerr.CarrierPlaceFailed, fmt.Sprintf("to=%s", to), err)
	}
	if result.Uuid == "" {
		return "", callerr.NewCarrierError(callerr.CarrierPlaceFailed, "empty call uuid in response", nil)
	}
	return result.Uuid, nil
}

// StartMediaStream opens the bidirectional media connection explicitly:
// carrier B requires this REST call once the call is answered, unlike
// carrier A's implicit connect-directive handshake.
func (a *Adapter) StartMediaStream(ctx context.Context, carrierCallRef, wsUrl string) error {
	_, _, err := a.voice.CreateCallStream(carrierCallRef, vng.StartStreamRequest{
		StreamUrl: []string{wsUrl},
	})
	if err != nil {
		return callerr.NewCarrierError(callerr.CarrierPlaceFailed, "start media stream: "+carrierCallRef, err)
	}
	return nil
}

func (a *Adapter) Hangup(ctx context.Context, carrierCallRef string) error {
	if _, _, err := a.voice.HangupCall(carrierCallRef); err != nil {
		return callerr.NewCarrierError(callerr.CarrierHangupFailed, carrierCallRef, err)
	}
	return nil
}

// MediaConnectDirective is unused on the webhook response path for
// carrier B (the answer webhook always responds 200 {"status":"ok"});
// it is implemented for interface completeness.
func (a *Adapter) MediaConnectDirective(wsUrl string) []byte {
	return []byte(fmt.Sprintf(`{"stream_url":["%s"]}`, wsUrl))
}
