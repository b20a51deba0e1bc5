// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package carrier implements the Carrier Port: a capability set with
// two variants, A and B, abstracting over two telephony carriers so the
// call session never branches on which one is configured.
package carrier

import "context"

// Kind selects which carrier variant a credential set belongs to.
type Kind string

const (
	KindA Kind = "A" // HMAC-SHA1 webhook signatures, connect-directive media start
	KindB Kind = "B" // Ed25519 webhook signatures, explicit startMediaStream REST call
)

// Port is the capability set every carrier adapter implements.
type Port interface {
	// Kind identifies which variant this adapter is.
	Kind() Kind

	// PlaceOutbound originates a call; webhookUrl receives every
	// subsequent event for THIS call (ringing/answered/hangup/etc).
	PlaceOutbound(ctx context.Context, to, from, webhookUrl string) (carrierCallRef string, err error)

	// StartMediaStream is meaningful for KindB only: KindA starts the
	// media stream via the connect directive returned from the webhook
	// response, so KindA's implementation is a documented no-op.
	StartMediaStream(ctx context.Context, carrierCallRef, wsUrl string) error

	// Hangup ends an in-progress call by its carrier-side reference.
	Hangup(ctx context.Context, carrierCallRef string) error

	// MediaConnectDirective returns the opaque body the webhook handler
	// writes back to the carrier telling it to open the bidirectional
	// media socket at wsUrl, selecting the caller-inbound track.
	MediaConnectDirective(wsUrl string) []byte
}
