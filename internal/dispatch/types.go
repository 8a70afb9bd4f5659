// Package dispatch maps (requester service, action) pairs to handlers and
// turns handler results into envelope answers.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Service string

const (
	ServiceContentStudio Service = "content-studio"
	ServiceAssessment    Service = "assessment"
	ServiceCourseBuilder Service = "course_builder"
	ServiceAnalytics     Service = "analytics"
)

type Action string

const (
	ActionGenerateQuestions            Action = "generate-questions"
	ActionGenerateTheoreticalQuestions Action = "generate-theoretical-questions"
	ActionConfirmQuestions             Action = "confirm-questions"
	ActionGetStagedQuestions           Action = "get-staged-questions"
	ActionRenderQuestions              Action = "render-questions"
	ActionEvaluateSolution             Action = "evaluate-solution"
	ActionRenderExercise               Action = "render-exercise"
	ActionContentMetrics               Action = "content-metrics"
)

// Encoding decides how a handler result is written into response.answer.
type Encoding int

const (
	// RawHTML places the handler's markup into the answer unchanged.
	RawHTML Encoding = iota + 1
	// JSONEnvelope stores the JSON serialization of the result.
	JSONEnvelope
	// StagedJSONEnvelope stages the generated content first and answers
	// with the issued request id.
	StagedJSONEnvelope
)

func (e Encoding) String() string {
	switch e {
	case RawHTML:
		return "raw_html"
	case JSONEnvelope:
		return "json"
	case StagedJSONEnvelope:
		return "staged_json"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

var ErrUnknownAction = errors.New("unknown requester service or action")

// Request is what a handler sees of the inbound envelope.
type Request struct {
	Service Service
	Action  Action
	Payload json.RawMessage

	// Set by the auth middleware; empty in permissive mode.
	AuthenticatedService string
	SignatureVerified    bool
}

// Result is a handler's outcome. A zero Status means 200.
type Result struct {
	Status  int
	Payload any
}

type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Registration binds a handler to the encoding its answer uses.
type Registration struct {
	Encoding Encoding
	Handler  HandlerFunc
}

// StagedContent is the payload a StagedJSONEnvelope handler returns.
type StagedContent struct {
	Questions []map[string]any
	Metadata  map[string]any
}

// StatusError lets a handler choose the HTTP status of its failure.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

func NewStatusError(status int, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}
