package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"educore_devlab/internal/interfaces"
	"educore_devlab/internal/signature"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcome is a dispatched request ready to be written into an envelope.
type Outcome struct {
	Status    int
	Answer    string
	Encoding  Encoding
	RequestID string // set when content was staged
	Err       error
}

type Dispatcher struct {
	table *Table
	store interfaces.StagingStore
	log   zerolog.Logger
	newID func() string
}

func NewDispatcher(table *Table, store interfaces.StagingStore, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		table: table,
		store: store,
		log:   log.With().Str("component", "dispatcher").Logger(),
		newID: uuid.NewString,
	}
}

// Execute resolves, runs and shapes a request. It never panics and always
// returns an answer that is a JSON string or, for RawHTML routes, markup.
func (d *Dispatcher) Execute(ctx context.Context, req Request) Outcome {
	reg, err := d.table.Resolve(req.Service, req.Action)
	if err != nil {
		return failure(http.StatusBadRequest, JSONEnvelope, err)
	}

	res, err := invoke(ctx, reg.Handler, req)
	if err != nil {
		status := http.StatusInternalServerError
		var se *StatusError
		if errors.As(err, &se) && se.Status != 0 {
			status = se.Status
		}
		if status >= http.StatusInternalServerError {
			d.log.Error().Err(err).
				Str("service", string(req.Service)).
				Str("action", string(req.Action)).
				Str("caller", req.AuthenticatedService).
				Bool("verified", req.SignatureVerified).
				Msg("handler failed")
		}
		return failure(status, reg.Encoding, err)
	}
	if res.Status == 0 {
		res.Status = http.StatusOK
	}

	switch reg.Encoding {
	case RawHTML:
		return d.shapeHTML(res)
	case JSONEnvelope:
		return d.shapeJSON(res, JSONEnvelope)
	case StagedJSONEnvelope:
		return d.shapeStaged(ctx, req, res)
	default:
		return failure(http.StatusInternalServerError, reg.Encoding, fmt.Errorf("unsupported encoding %s", reg.Encoding))
	}
}

// invoke converts a handler panic into an error.
func invoke(ctx context.Context, h HandlerFunc, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, req)
}

func (d *Dispatcher) shapeHTML(res Result) Outcome {
	switch v := res.Payload.(type) {
	case string:
		return Outcome{Status: res.Status, Answer: v, Encoding: RawHTML}
	case template.HTML:
		return Outcome{Status: res.Status, Answer: string(v), Encoding: RawHTML}
	case []byte:
		return Outcome{Status: res.Status, Answer: string(v), Encoding: RawHTML}
	default:
		// Handlers may answer a render route with structured data on error.
		return d.shapeJSON(res, RawHTML)
	}
}

func (d *Dispatcher) shapeJSON(res Result, enc Encoding) Outcome {
	answer, err := signature.Marshal(res.Payload)
	if err != nil {
		return failure(http.StatusInternalServerError, enc, fmt.Errorf("encode answer: %w", err))
	}
	return Outcome{Status: res.Status, Answer: string(answer), Encoding: enc}
}

type stagedAnswer struct {
	Success   bool       `json:"success"`
	RequestID string     `json:"request_id"`
	Data      stagedData `json:"data"`
}

type stagedData struct {
	Questions []map[string]any `json:"questions"`
	Metadata  map[string]any   `json:"metadata"`
}

func (d *Dispatcher) shapeStaged(ctx context.Context, req Request, res Result) Outcome {
	content, ok := res.Payload.(StagedContent)
	if !ok {
		if p, isPtr := res.Payload.(*StagedContent); isPtr && p != nil {
			content, ok = *p, true
		}
	}
	if !ok || res.Status >= http.StatusMultipleChoices {
		return d.shapeJSON(res, StagedJSONEnvelope)
	}
	if content.Questions == nil {
		content.Questions = []map[string]any{}
	}
	if content.Metadata == nil {
		content.Metadata = map[string]any{}
	}

	requestID := d.newID()
	if err := d.store.Save(ctx, requestID, string(req.Service), string(req.Action), content.Questions, content.Metadata); err != nil {
		d.log.Error().Err(err).Str("request_id", requestID).Msg("staging save failed")
		return failure(http.StatusInternalServerError, StagedJSONEnvelope, fmt.Errorf("stage generated content: %w", err))
	}
	d.log.Info().
		Str("request_id", requestID).
		Str("service", string(req.Service)).
		Int("questions", len(content.Questions)).
		Msg("content staged")

	answer, err := signature.Marshal(stagedAnswer{
		Success:   true,
		RequestID: requestID,
		Data:      stagedData{Questions: content.Questions, Metadata: content.Metadata},
	})
	if err != nil {
		return failure(http.StatusInternalServerError, StagedJSONEnvelope, fmt.Errorf("encode answer: %w", err))
	}
	return Outcome{Status: res.Status, Answer: string(answer), Encoding: StagedJSONEnvelope, RequestID: requestID}
}

// ErrorAnswer is the JSON string placed in response.answer on failure.
func ErrorAnswer(msg string) string {
	b, err := signature.Marshal(map[string]any{"success": false, "error": msg})
	if err != nil {
		return `{"success":false,"error":"internal error"}`
	}
	return string(b)
}

func failure(status int, enc Encoding, err error) Outcome {
	return Outcome{Status: status, Answer: ErrorAnswer(err.Error()), Encoding: enc, Err: err}
}
