// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCarrierA_Valid(t *testing.T) {
	ev, err := ParseCarrierA(map[string]string{"CallSid": "CA123", "CallStatus": "ringing"})
	require.NoError(t, err)
	assert.Equal(t, "CA123", ev.CarrierCallRef)
	assert.Equal(t, StatusRinging, ev.Status)
}

func TestParseCarrierA_MissingSid(t *testing.T) {
	_, err := ParseCarrierA(map[string]string{"CallStatus": "ringing"})
	require.Error(t, err)
}

func TestParseCarrierA_UnknownStatus(t *testing.T) {
	_, err := ParseCarrierA(map[string]string{"CallSid": "CA1", "CallStatus": "levitating"})
	require.Error(t, err)
}

func TestParseCarrierB_Valid(t *testing.T) {
	body := []byte(`{"data":{"event_type":"call.answered","payload":{"call_control_id":"cc-1"}}}`)
	ev, err := ParseCarrierB(body)
	require.NoError(t, err)
	assert.Equal(t, "cc-1", ev.CarrierCallRef)
	assert.Equal(t, StatusInProgress, ev.Status)
}

func TestParseCarrierB_UnknownEventTypeIsUnknownNotError(t *testing.T) {
	body := []byte(`{"data":{"event_type":"some.future.event","payload":{"call_control_id":"cc-2"}}}`)
	ev, err := ParseCarrierB(body)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, ev.Status)
}

func TestParseCarrierB_MissingCallControlId(t *testing.T) {
	_, err := ParseCarrierB([]byte(`{"data":{"event_type":"call.answered","payload":{}}}`))
	require.Error(t, err)
}

func TestParseCarrierB_MalformedJSON(t *testing.T) {
	_, err := ParseCarrierB([]byte(`not json`))
	require.Error(t, err)
}
