// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package carrier

import (
	"encoding/json"
	"fmt"

	"github.com/rapidaai/callbridge/internal/callerr"
)

// Status is the carrier-agnostic call lifecycle status a webhook reports.
type Status string

const (
	StatusRinging         Status = "ringing"
	StatusInProgress      Status = "in-progress"
	StatusCompleted       Status = "completed"
	StatusBusy            Status = "busy"
	StatusNoAnswer        Status = "no-answer"
	StatusFailed          Status = "failed"
	StatusStreamingStart  Status = "streaming.started"
	StatusStreamingStop   Status = "streaming.stopped"
	StatusMachineDetected Status = "machine.detection.ended"
	StatusUnknown         Status = ""
)

// Event is the normalized shape both carrier webhook formats collapse to.
type Event struct {
	CarrierCallRef string
	Status         Status
}

// ParseCarrierA parses carrier A's form-urlencoded webhook fields into a
// normalized Event. Only CallSid and CallStatus are meaningful.
func ParseCarrierA(formFields map[string]string) (Event, error) {
	sid, ok := formFields["CallSid"]
	if !ok || sid == "" {
		return Event{}, callerr.NewCarrierError(callerr.CarrierParseFailed, "missing CallSid", nil)
	}
	status := Status(formFields["CallStatus"])
	switch status {
	case StatusRinging, StatusInProgress, StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed:
	default:
		return Event{}, callerr.NewCarrierError(callerr.CarrierParseFailed,
			fmt.Sprintf("unrecognized CallStatus %q", formFields["CallStatus"]), nil)
	}
	return Event{CarrierCallRef: sid, Status: status}, nil
}

type carrierBPayload struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			Result        string `json:"result,omitempty"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseCarrierB parses carrier B's JSON webhook body into a normalized
// Event. Every decodable event is returned; the caller decides which
// event_type values it acts on (call.initiated | answered | hangup |
// streaming.started | streaming.stopped | machine.detection.ended).
func ParseCarrierB(rawBody []byte) (Event, error) {
	var p carrierBPayload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return Event{}, callerr.NewCarrierError(callerr.CarrierParseFailed, "malformed JSON body", err)
	}
	if p.Data.Payload.CallControlID == "" {
		return Event{}, callerr.NewCarrierError(callerr.CarrierParseFailed, "missing call_control_id", nil)
	}

	var status Status
	switch p.Data.EventType {
	case "call.initiated":
		status = StatusRinging
	case "call.answered":
		status = StatusInProgress
	case "call.hangup":
		status = StatusCompleted
	case "streaming.started":
		status = StatusStreamingStart
	case "streaming.stopped":
		status = StatusStreamingStop
	case "machine.detection.ended":
		status = StatusMachineDetected
	default:
		status = StatusUnknown
	}
	return Event{CarrierCallRef: p.Data.Payload.CallControlID, Status: status}, nil
}
