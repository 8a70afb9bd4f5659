package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"educore_devlab/internal/entities"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const MaxServiceNameLength = 64

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidServiceName checks an X-Service-Name header value.
func ValidServiceName(s string) bool {
	return s != "" && len(s) <= MaxServiceNameLength && serviceNamePattern.MatchString(s)
}

const envelopeSchemaURL = "https://educore.local/schemas/envelope.schema.json"

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["requester_service", "payload"],
	"properties": {
		"requester_service": {"type": "string", "minLength": 1, "maxLength": 64},
		"payload": {
			"type": "object",
			"properties": {
				"action": {"type": "string"},
				"question_type": {"type": "string"}
			}
		},
		"response": {
			"type": "object",
			"properties": {
				"answer": {"type": ["string", "object", "array", "null"]}
			}
		}
	}
}`

var compiledEnvelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
		panic(fmt.Sprintf("envelope schema load failed: %v", err))
	}
	return c.MustCompile(envelopeSchemaURL)
}

var (
	ErrInvalidJSON     = errors.New("Invalid JSON")
	ErrInvalidEnvelope = errors.New("Invalid envelope")
)

// ParseEnvelope decodes and structurally validates a raw request body. A
// missing response or answer defaults to an empty string.
func ParseEnvelope(body []byte) (*entities.Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: unexpected data after top-level value", ErrInvalidJSON)
	}

	if err := compiledEnvelopeSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEnvelope, describeValidation(ve))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env entities.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Response.Answer == nil {
		env.Response.Answer = ""
	}
	return &env, nil
}

// describeValidation reports the deepest failing location.
func describeValidation(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
