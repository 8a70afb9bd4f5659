package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"educore_devlab/internal/dispatch"
	"educore_devlab/internal/entities"
	"educore_devlab/internal/infrastructure"
	"educore_devlab/internal/repository"
	"educore_devlab/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoQuestions = `[{"id":"q1","title":"Sum","hints":["loop"],"test_cases":[{"input":"[1,2]","expected_output":"3"}]},{"id":"q2","title":"Max"}]`

type spyAI struct {
	calls atomic.Int32
	reply string
}

func (s *spyAI) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	return s.reply, nil
}

type fakeForwarder struct {
	res *infrastructure.ForwardResult
	err error
	got []byte
}

func (f *fakeForwarder) Forward(ctx context.Context, envelope []byte) (*infrastructure.ForwardResult, error) {
	f.got = envelope
	return f.res, f.err
}

type fixture struct {
	engine  *gin.Engine
	store   *repository.MemoryStagingRepository
	ai      *spyAI
	codec   *signature.Codec
	ourKey  *ecdsa.PrivateKey
	peerKey *ecdsa.PrivateKey
}

type fixtureOptions struct {
	posture   AuthPosture
	forwarder Forwarder
	rps       float64
}

var production = AuthPosture{Production: true, SignatureVerification: true}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:   repository.NewMemoryStagingRepository(),
		ai:      &spyAI{reply: twoQuestions},
		codec:   signature.NewCodec(signature.ModeCompact),
		ourKey:  newKey(t),
		peerKey: newKey(t),
	}
	identity := signature.NewIdentityFromKey("devlab-service", f.ourKey)
	identity.AddPeerKey("coordinator", &f.peerKey.PublicKey)

	log := zerolog.Nop()
	var limiter *infrastructure.ServiceRateLimiter
	if opts.rps > 0 {
		limiter = infrastructure.NewServiceRateLimiter(opts.rps, 1)
	}
	dispatcher := dispatch.NewDispatcher(dispatch.NewTable(dispatch.NewHandlers(f.ai, f.store)), f.store, log)
	gateway := NewGateway(dispatcher, opts.forwarder, f.store, identity, f.codec, log)
	mw := NewMiddleware(opts.posture, identity, f.codec, limiter, log)

	f.engine = gin.New()
	SetupRoutes(f.engine, gateway, mw, 1<<20)
	return f
}

// post sends body signed by the coordinator unless sig is overridden.
func (f *fixture) post(t *testing.T, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		sig, err := f.codec.SignWithKey("coordinator", f.peerKey, []byte(body))
		require.NoError(t, err)
		headers = map[string]string{"X-Service-Name": "coordinator", "X-Signature": sig}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (entities.Envelope, map[string]any) {
	t.Helper()
	var env entities.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	answer, ok := env.Response.Answer.(string)
	require.True(t, ok, "answer must be a string: %v", env.Response.Answer)
	var parsed map[string]any
	_ = json.Unmarshal([]byte(answer), &parsed)
	return env, parsed
}

const generateBody = `{"requester_service":"content-studio","payload":{"action":"generate-questions","question_type":"code","topic_id":"t1","topic_name":"Loops","programming_language":"python","amount":2},"response":{"answer":""}}`

func TestGateway_GenerateAndConfirm(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production})

	w := f.post(t, "/api/fill-content-metrics/", generateBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "devlab-service", w.Header().Get("X-Service-Name"))

	// The response signature covers the body with our identity.
	assert.NoError(t, f.codec.Check("devlab-service", w.Header().Get("X-Signature"), &f.ourKey.PublicKey, w.Body.Bytes()))

	env, answer := decodeEnvelope(t, w)
	assert.Equal(t, "content-studio", env.RequesterService)
	assert.JSONEq(t, `{"action":"generate-questions","question_type":"code","topic_id":"t1","topic_name":"Loops","programming_language":"python","amount":2}`, string(env.Payload))
	assert.Equal(t, true, answer["success"])
	requestID, _ := answer["request_id"].(string)
	require.NotEmpty(t, requestID)
	assert.Len(t, answer["data"].(map[string]any)["questions"], 2)

	batch, err := f.store.Get(context.Background(), requestID)
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, entities.StatusPending, batch.Status)

	confirm := `{"requester_service":"content-studio","payload":{"action":"confirm-questions","request_id":"` + requestID + `","requester_service":"content-studio"},"response":{"answer":""}}`
	w = f.post(t, "/api/fill-content-metrics/", confirm, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, answer = decodeEnvelope(t, w)
	assert.Equal(t, map[string]any{"success": true, "request_id": requestID}, answer)

	w = f.post(t, "/api/fill-content-metrics/", confirm, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateway_InvalidJSON(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: AuthPosture{}})

	w := f.post(t, "/api/fill-content-metrics", "{not json", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	env, answer := decodeEnvelope(t, w)
	assert.Contains(t, env.Error, "Invalid JSON")
	assert.Equal(t, false, answer["success"])
	assert.Equal(t, env.Error, answer["error"])

	stats, _ := f.store.Stats(context.Background())
	assert.Empty(t, stats)
	assert.Equal(t, int32(0), f.ai.calls.Load())
}

func TestGateway_InvalidEnvelope(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: AuthPosture{}})

	for _, body := range []string{
		`{"payload":{"action":"x"}}`,
		`{"requester_service":42,"payload":{}}`,
		`{"requester_service":"content-studio","payload":"generate"}`,
		`{"requester_service":"content-studio","payload":{},"response":"x"}`,
	} {
		w := f.post(t, "/fill-content-metrics", body, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		env, _ := decodeEnvelope(t, w)
		assert.Contains(t, env.Error, "Invalid envelope", body)
	}
}

func TestGateway_MissingResponseIsDefaulted(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: AuthPosture{}})

	w := f.post(t, "/fill-content-metrics/", `{"requester_service":"analytics","payload":{"action":"content-metrics"}}`, map[string]string{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, answer := decodeEnvelope(t, w)
	assert.Equal(t, true, answer["success"])
}

func TestGateway_AuthRejections(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production})

	t.Run("missing signature", func(t *testing.T) {
		w := f.post(t, "/api/fill-content-metrics/", generateBody, map[string]string{"X-Service-Name": "coordinator"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		env, _ := decodeEnvelope(t, w)
		assert.Contains(t, env.Error, "Authentication required")
	})

	t.Run("tampered body", func(t *testing.T) {
		sig, err := f.codec.SignWithKey("coordinator", f.peerKey, []byte(generateBody))
		require.NoError(t, err)
		tampered := bytes.Replace([]byte(generateBody), []byte(`"amount":2`), []byte(`"amount":3`), 1)
		w := f.post(t, "/api/fill-content-metrics/", string(tampered), map[string]string{"X-Service-Name": "coordinator", "X-Signature": sig})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		sig, err := f.codec.SignWithKey("coordinator", newKey(t), []byte(generateBody))
		require.NoError(t, err)
		w := f.post(t, "/api/fill-content-metrics/", generateBody, map[string]string{"X-Service-Name": "coordinator", "X-Signature": sig})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown service in production", func(t *testing.T) {
		w := f.post(t, "/api/fill-content-metrics/", generateBody, map[string]string{"X-Service-Name": "billing", "X-Signature": "abc"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	// The handler never ran for any of the rejected requests.
	assert.Equal(t, int32(0), f.ai.calls.Load())
	stats, _ := f.store.Stats(context.Background())
	assert.Empty(t, stats)
}

func TestGateway_UnknownServiceAllowedOutsideProduction(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: AuthPosture{SignatureVerification: true}})

	w := f.post(t, "/api/fill-content-metrics/", generateBody, map[string]string{"X-Service-Name": "integration-test", "X-Signature": "unchecked"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.post(t, "/api/fill-content-metrics/", generateBody, map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateway_VerifierKeyErrorIs500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	codec := signature.NewCodec(signature.ModeCompact)
	identity := signature.NewIdentityFromKey("devlab-service", newKey(t))
	identity.AddPeerKey("coordinator", nil)
	mw := NewMiddleware(production, identity, codec, nil, zerolog.Nop())

	engine := gin.New()
	engine.POST("/", mw.ServiceAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Service-Name", "coordinator")
	req.Header.Set("X-Signature", "c2lnbmF0dXJl")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGateway_UnknownAction(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production})

	w := f.post(t, "/api/fill-content-metrics/", `{"requester_service":"content-studio","payload":{"action":"delete-everything"},"response":{"answer":""}}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env, answer := decodeEnvelope(t, w)
	assert.Equal(t, "content-studio", env.RequesterService)
	assert.Equal(t, false, answer["success"])
	assert.Contains(t, answer["error"], "delete-everything")
}

func TestGateway_RenderIsRawHTML(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production})

	w := f.post(t, "/api/fill-content-metrics/", `{"requester_service":"content-studio","payload":{"action":"render-questions","questions":[{"id":"q1","title":"Sum & more"}]},"response":{"answer":""}}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env entities.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	html := env.Response.Answer.(string)
	assert.Contains(t, html, "<section")
	assert.Contains(t, html, "Sum &amp; more")
	// Markup is not HTML-escaped inside the JSON body.
	assert.Contains(t, w.Body.String(), `<section`)
}

func TestGateway_ForwardsTheoreticalRequests(t *testing.T) {
	coordinatorKey := newKey(t)
	codec := signature.NewCodec(signature.ModeCompact)
	reply := []byte(`{"requester_service":"content-studio","payload":{"action":"generate-questions"},"response":{"answer":"[{\"q\":1}]"}}`)

	var received []byte
	coordinator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		assert.Equal(t, "devlab-service", r.Header.Get("X-Service-Name"))
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		sig, _ := codec.SignWithKey("coordinator", coordinatorKey, reply)
		w.Header().Set("X-Signature", sig)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write(reply)
	}))
	defer coordinator.Close()

	identity := signature.NewIdentityFromKey("devlab-service", newKey(t))
	identity.AddPeerKey("coordinator", &coordinatorKey.PublicKey)
	client := infrastructure.NewCoordinatorClient(coordinator.URL, "coordinator", identity, codec, time.Second, zerolog.Nop())
	f := newFixture(t, fixtureOptions{posture: production, forwarder: client})

	body := `{"requester_service":"content-studio","payload":{"action":"generate-questions","question_type":"theoretical","topic_name":"Loops"},"response":{"answer":""}}`
	w := f.post(t, "/api/fill-content-metrics/", body, nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, string(reply), w.Body.String())
	assert.NoError(t, codec.Check("coordinator", w.Header().Get("X-Signature"), &coordinatorKey.PublicKey, w.Body.Bytes()))
	assert.JSONEq(t, body, string(received))
	assert.Equal(t, int32(0), f.ai.calls.Load())
}

func TestGateway_ForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{err: errors.New("dial tcp: connection refused")}
	f := newFixture(t, fixtureOptions{posture: AuthPosture{}, forwarder: fwd})

	body := `{"requester_service":"content-studio","payload":{"action":"generate-theoretical-questions"},"response":{"answer":""}}`
	w := f.post(t, "/api/fill-content-metrics/", body, map[string]string{})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env, answer := decodeEnvelope(t, w)
	assert.JSONEq(t, `{"action":"generate-theoretical-questions"}`, string(env.Payload))
	assert.Equal(t, false, answer["success"])
	assert.Contains(t, answer["error"], "connection refused")
	assert.Equal(t, body, string(fwd.got))

	f = newFixture(t, fixtureOptions{posture: AuthPosture{}})
	w = f.post(t, "/api/fill-content-metrics/", body, map[string]string{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGateway_PathVariants(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: AuthPosture{}})
	body := `{"requester_service":"analytics","payload":{"action":"content-metrics"},"response":{"answer":""}}`
	for _, p := range envelopePaths {
		w := f.post(t, p, body, map[string]string{})
		assert.Equal(t, http.StatusOK, w.Code, p)
	}
}

func TestGateway_RateLimit(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production, rps: 0.001})
	body := `{"requester_service":"analytics","payload":{"action":"content-metrics"},"response":{"answer":""}}`

	w := f.post(t, "/api/fill-content-metrics/", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.post(t, "/api/fill-content-metrics/", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestGateway_UnsignedWhenNoPrivateKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStagingRepository()
	identity := signature.NewIdentityFromKey("devlab-service", nil)
	codec := signature.NewCodec(signature.ModeCompact)
	dispatcher := dispatch.NewDispatcher(dispatch.NewTable(dispatch.NewHandlers(&spyAI{}, store)), store, zerolog.Nop())

	engine := gin.New()
	SetupRoutes(engine, NewGateway(dispatcher, nil, store, identity, codec, zerolog.Nop()), NewMiddleware(AuthPosture{}, identity, codec, nil, zerolog.Nop()), 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/fill-content-metrics/", bytes.NewBufferString(`{"requester_service":"analytics","payload":{"action":"content-metrics"},"response":{"answer":""}}`))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Signature"))
}

func TestGateway_Health(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production})
	require.NoError(t, f.store.Save(context.Background(), "r1", "content-studio", "generate-questions", nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "devlab-service", resp.Service)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Nil(t, resp.RateLimit)
}

func TestGateway_HealthReportsRateLimit(t *testing.T) {
	f := newFixture(t, fixtureOptions{posture: production, rps: 5})
	require.Equal(t, http.StatusOK, f.post(t, "/api/fill-content-metrics/", generateBody, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.RateLimit)
	assert.EqualValues(t, 1, resp.RateLimit["active_callers"])
	assert.EqualValues(t, 5, resp.RateLimit["rate"])
	assert.EqualValues(t, 1, resp.RateLimit["burst"])
}

func TestGateway_OversizeBody(t *testing.T) {
	huge := `{"requester_service":"content-studio","payload":{"pad":"` + strings.Repeat("x", 2<<20) + `"}}`

	t.Run("permissive", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{posture: AuthPosture{}})
		w := f.post(t, "/api/fill-content-metrics/", huge, map[string]string{})
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	})

	t.Run("verified", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{posture: production})
		w := f.post(t, "/api/fill-content-metrics/", huge, nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	})
}
