package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"educore_devlab/internal/dispatch"
	"educore_devlab/internal/entities"
	"educore_devlab/internal/infrastructure"
	"educore_devlab/internal/interfaces"
	"educore_devlab/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Forwarder relays envelopes to the coordinator.
type Forwarder interface {
	Forward(ctx context.Context, envelope []byte) (*infrastructure.ForwardResult, error)
}

// Gateway is the single envelope endpoint.
type Gateway struct {
	dispatcher *dispatch.Dispatcher
	forwarder  Forwarder
	store      interfaces.StagingStore
	limiter    *infrastructure.ServiceRateLimiter
	out        *responder
	log        zerolog.Logger
	startedAt  time.Time
}

func NewGateway(dispatcher *dispatch.Dispatcher, forwarder Forwarder, store interfaces.StagingStore, identity *signature.Identity, codec *signature.Codec, log zerolog.Logger) *Gateway {
	log = log.With().Str("component", "gateway").Logger()
	return &Gateway{
		dispatcher: dispatcher,
		forwarder:  forwarder,
		store:      store,
		out:        &responder{identity: identity, codec: codec, log: log},
		log:        log,
		startedAt:  time.Now(),
	}
}

var envelopePaths = []string{
	"/api/fill-content-metrics/",
	"/api/fill-content-metrics",
	"/fill-content-metrics/",
	"/fill-content-metrics",
}

// SetupRoutes wires middleware and routes. Every path variant reaches the
// same handler.
func SetupRoutes(r *gin.Engine, g *Gateway, m *Middleware, maxBodyBytes int64) {
	r.RedirectTrailingSlash = false
	r.Use(m.Recovery())
	r.Use(RequestLogger(g.log))
	r.Use(SecurityHeaders())

	g.limiter = m.limiter
	r.GET("/health", g.Health)

	envelope := r.Group("/")
	envelope.Use(RequestSizeLimiter(maxBodyBytes))
	envelope.Use(m.ServiceAuth())
	envelope.Use(m.RateLimitPerService())
	for _, p := range envelopePaths {
		envelope.POST(p, g.HandleEnvelope)
	}
}

func (g *Gateway) HandleEnvelope(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		g.out.fail(c, readBodyStatus(err), "", nil, "Failed to read request body: "+err.Error())
		return
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		g.out.fail(c, http.StatusBadRequest, "", nil, err.Error())
		return
	}

	service := dispatch.Service(env.RequesterService)
	header := env.Header()

	if dispatch.ShouldForward(service, header) {
		g.forward(c, env, body)
		return
	}

	outcome := g.dispatcher.Execute(c.Request.Context(), dispatch.Request{
		Service:              service,
		Action:               dispatch.Action(header.Action),
		Payload:              env.Payload,
		AuthenticatedService: c.GetString(ContextAuthenticatedService),
		SignatureVerified:    c.GetBool(ContextSignatureVerified),
	})

	env.Response.Answer = outcome.Answer
	if outcome.Err != nil && outcome.Status >= http.StatusBadRequest {
		env.Error = outcome.Err.Error()
	}
	g.out.write(c, outcome.Status, env)
}

// forward relays the original envelope and the coordinator's reply verbatim.
func (g *Gateway) forward(c *gin.Context, env *entities.Envelope, body []byte) {
	if g.forwarder == nil {
		g.out.fail(c, http.StatusInternalServerError, env.RequesterService, env.Payload, "Forwarding failed: "+infrastructure.ErrCoordinatorNotConfigured.Error())
		return
	}

	res, err := g.forwarder.Forward(c.Request.Context(), body)
	if err != nil {
		g.log.Error().Err(err).Str("service", env.RequesterService).Msg("forward to coordinator failed")
		msg := "Forwarding failed: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Forwarding failed: coordinator timed out"
		}
		g.out.fail(c, http.StatusInternalServerError, env.RequesterService, env.Payload, msg)
		return
	}

	for _, h := range []string{"X-Signature", "X-Service-Name"} {
		if v := res.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(res.StatusCode, contentType, res.Body)
}

type healthResponse struct {
	Status        string         `json:"status"`
	Service       string         `json:"service"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Staging       map[string]any `json:"staging"`
	RateLimit     map[string]any `json:"rate_limit,omitempty"`
}

func (g *Gateway) Health(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Service:       g.out.identity.ServiceName,
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
		Staging:       map[string]any{},
	}
	if g.limiter != nil {
		resp.RateLimit = g.limiter.Stats()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	stats, err := g.store.Stats(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Staging["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Staging["pending"] = stats
	c.JSON(http.StatusOK, resp)
}
