package webhook

import (
	"strconv"
	"time"

	"github.com/acme/voice-campaign-control/internal/domain"
)

// TwilioStatus is the form-encoded status callback from a Twilio-style
// provider.
type TwilioStatus struct {
	CallSid      string
	CallStatus   string
	CallDuration string // seconds, as a string
}

// Terminal reports whether the leg reached a final state.
func (t TwilioStatus) Terminal() bool {
	switch t.CallStatus {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

// Normalize projects the callback onto the common terminal event.
func (t TwilioStatus) Normalize(corr Correlation) CallTerminated {
	duration, _ := strconv.Atoi(t.CallDuration)
	return terminatedFromProvider("twilio", t.CallStatus, duration, corr)
}

// PlivoStatus is the callback from a Plivo-style provider. Plivo adds
// timeout, cancel and machine outcomes on top of the Twilio set.
type PlivoStatus struct {
	CallUUID        string
	CallStatus      string
	Duration        string
	HangupCause     string
	MachineDetected bool
}

// Terminal reports whether the leg reached a final state.
func (p PlivoStatus) Terminal() bool {
	switch p.CallStatus {
	case "completed", "busy", "failed", "no-answer", "canceled", "cancel", "timeout", "machine":
		return true
	}
	return false
}

// Normalize projects the callback onto the common terminal event.
func (p PlivoStatus) Normalize(corr Correlation) CallTerminated {
	duration, _ := strconv.Atoi(p.Duration)
	status := p.CallStatus
	if p.MachineDetected {
		status = "machine"
	}
	return terminatedFromProvider("plivo", status, duration, corr)
}

// TelnyxEvent is the JSON webhook from a Telnyx-style provider.
type TelnyxEvent struct {
	Data TelnyxEventData `json:"data"`
}

// TelnyxEventData carries the event type and call payload.
type TelnyxEventData struct {
	EventType string        `json:"event_type"`
	Payload   TelnyxPayload `json:"payload"`
}

// TelnyxPayload is the call leg payload.
type TelnyxPayload struct {
	CallControlID string `json:"call_control_id"`
	HangupCause   string `json:"hangup_cause"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// Terminal reports whether the event ends the call leg. Only call.hangup is
// terminal; initiated/ringing/answered are progress notifications.
func (e TelnyxEvent) Terminal() bool {
	return e.Data.EventType == "call.hangup"
}

// Normalize projects the hangup event onto the common terminal event.
// Duration comes from the leg's start/end timestamps when parsable.
func (e TelnyxEvent) Normalize(corr Correlation) CallTerminated {
	status := telnyxStatus(e.Data.Payload.HangupCause)
	duration := 0
	start, errStart := time.Parse(time.RFC3339, e.Data.Payload.StartTime)
	end, errEnd := time.Parse(time.RFC3339, e.Data.Payload.EndTime)
	if errStart == nil && errEnd == nil && end.After(start) {
		duration = int(end.Sub(start) / time.Second)
	}
	return terminatedFromProvider("telnyx", status, duration, corr)
}

func telnyxStatus(hangupCause string) string {
	switch hangupCause {
	case "normal_clearing":
		return "completed"
	case "user_busy":
		return "busy"
	case "originator_cancel":
		return "canceled"
	case "no_answer", "timeout":
		return "no-answer"
	default:
		return "failed"
	}
}

// terminatedFromProvider applies the shared telephony outcome mapping:
// completed with audible duration counts as completed, busy/canceled/
// failed/machine are failures, and no-answer/timeout mean nobody picked up.
func terminatedFromProvider(source, status string, duration int, corr Correlation) CallTerminated {
	ev := CallTerminated{
		EngineCallID:  corr.CallHistoryID,
		CampaignID:    corr.CampaignID,
		ContactID:     corr.ContactID,
		CallHistoryID: corr.CallHistoryID,
		EndReason:     status,
		Duration:      duration,
		Source:        source,
	}

	switch status {
	case "completed":
		if duration > 0 {
			ev.Outcome = domain.ContactStatusCompleted
		} else {
			ev.Outcome = domain.ContactStatusNoAnswer
		}
	case "no-answer", "timeout":
		ev.Outcome = domain.ContactStatusNoAnswer
	case "busy", "canceled", "cancel", "failed", "machine":
		ev.Outcome = domain.ContactStatusFailed
	default:
		ev.Outcome = domain.ContactStatusFailed
	}
	return ev
}
