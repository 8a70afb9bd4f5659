package http

import (
	"encoding/json"
	"net/http"

	"educore_devlab/internal/dispatch"
	"educore_devlab/internal/entities"
	"educore_devlab/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// responder writes envelopes and signs them with this service's identity.
type responder struct {
	identity *signature.Identity
	codec    *signature.Codec
	log      zerolog.Logger
}

// write signs on a best-effort basis: a signing failure is logged and the
// envelope is still delivered.
func (r *responder) write(c *gin.Context, status int, env *entities.Envelope) {
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage(`{}`)
	}
	body, err := signature.Marshal(env)
	if err != nil {
		r.log.Error().Err(err).Msg("encode envelope")
		status = http.StatusInternalServerError
		body = []byte(`{"requester_service":"","payload":{},"response":{"answer":"{\"success\":false,\"error\":\"internal error\"}"},"error":"internal error"}`)
	}

	c.Header("X-Service-Name", r.identity.ServiceName)
	if sig, err := r.codec.SignWithKey(r.identity.ServiceName, r.identity.PrivateKey(), body); err != nil {
		r.log.Warn().Err(err).Msg("response left unsigned")
	} else {
		c.Header("X-Signature", sig)
	}
	c.Data(status, "application/json", body)
}

// fail writes an error envelope and aborts the chain.
func (r *responder) fail(c *gin.Context, status int, service string, payload json.RawMessage, msg string) {
	r.write(c, status, &entities.Envelope{
		RequesterService: service,
		Payload:          payload,
		Response:         entities.Response{Answer: dispatch.ErrorAnswer(msg)},
		Error:            msg,
	})
	c.Abort()
}
