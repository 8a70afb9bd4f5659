package entities

import "encoding/json"

// Envelope is the unit of exchange between EduCore services.
type Envelope struct {
	RequesterService string          `json:"requester_service"`
	Payload          json.RawMessage `json:"payload"` // Opaque except for "action"
	Response         Response        `json:"response"`
	Error            string          `json:"error,omitempty"` // Only set on gateway-level failures
}

// Response carries the gateway's answer. Answer is a JSON-serialized string,
// or raw HTML for render actions.
type Response struct {
	Answer any `json:"answer"`
}

// PayloadHeader holds the reserved payload fields the gateway inspects.
type PayloadHeader struct {
	Action       string `json:"action"`
	QuestionType string `json:"question_type"`
}

// Header decodes the reserved fields of the payload. A payload that is not an
// object yields an empty header.
func (e *Envelope) Header() PayloadHeader {
	var h PayloadHeader
	if len(e.Payload) == 0 {
		return h
	}
	_ = json.Unmarshal(e.Payload, &h)
	return h
}
