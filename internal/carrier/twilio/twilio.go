// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package twilio implements the carrier.Port for carrier A: REST call
// placement and hangup via twilio-go, with the media-stream connect
// directive returned as TwiML in the webhook response.
package twilio

import (
	"context"
	"fmt"

	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/twilio/twilio-go"

	"github.com/rapidaai/callbridge/internal/callerr"
	"github.com/rapidaai/callbridge/internal/carrier"
	"github.com/rapidaai/callbridge/internal/logging"
)

// Adapter is the carrier A (Twilio-shaped) implementation of carrier.Port.
type Adapter struct {
	logger logging.Logger
	client *twilio.RestClient
}

// New builds an Adapter from an account SID and auth token, the same two
// credentials used for Basic Auth against the REST API and for verifying
// the X-Twilio-Signature header.
func New(logger logging.Logger, accountSid, authToken string) *Adapter {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &Adapter{logger: logger, client: client}
}

func (a *Adapter) Kind() carrier.Kind { return carrier.KindA }

// PlaceOutbound originates a call whose webhook events are all delivered
// to webhookUrl; the connect directive served from that webhook carries
// the media-stream URL, so no separate StartMediaStream call is needed.
func (a *Adapter) PlaceOutbound(ctx context.Context, to, from, webhookUrl string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(webhookUrl)
	params.SetMethod("POST")
	params.SetStatusCallback(webhookUrl)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := a.client.Api.CreateCall(params)
	if err != nil {
		return "", callerr.NewCarrierError(callerr.CarrierPlaceFailed, fmt.Sprintf("to=%s", to), err)
	}
	if resp.Sid == nil {
		return "", callerr.NewCarrierError(callerr.CarrierPlaceFailed, "empty call sid in response", nil)
	}
	return *resp.Sid, nil
}

// StartMediaStream is a documented no-op for carrier A: the media stream
// starts from the <Connect><Stream> TwiML the webhook response returns.
func (a *Adapter) StartMediaStream(ctx context.Context, carrierCallRef, wsUrl string) error {
	return nil
}

func (a *Adapter) Hangup(ctx context.Context, carrierCallRef string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := a.client.Api.UpdateCall(carrierCallRef, params); err != nil {
		return callerr.NewCarrierError(callerr.CarrierHangupFailed, carrierCallRef, err)
	}
	return nil
}

// MediaConnectDirective renders the TwiML body the /twiml handler writes
// back on "ringing"/"in-progress": a <Connect><Stream> pointed at wsUrl,
// with the caller-inbound track explicitly selected.
func (a *Adapter) MediaConnectDirective(wsUrl string) []byte {
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?>`+
			`<Response><Connect><Stream url="%s" track="inbound_track" /></Connect></Response>`,
		wsUrl))
}
