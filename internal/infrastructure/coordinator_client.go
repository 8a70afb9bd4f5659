package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"educore_devlab/internal/signature"

	"github.com/rs/zerolog"
)

const coordinatorPath = "/api/fill-content-metrics/"

var ErrCoordinatorNotConfigured = errors.New("coordinator url is not configured")

// ForwardResult is the coordinator's reply, relayed without modification.
type ForwardResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// Verified is true only when the coordinator's response signature was
	// checked against its configured public key.
	Verified bool
}

// CoordinatorClient signs envelopes with this service's identity and posts
// them to the coordinator.
type CoordinatorClient struct {
	baseURL    string
	peerName   string
	identity   *signature.Identity
	codec      *signature.Codec
	httpClient *http.Client
	log        zerolog.Logger
}

func NewCoordinatorClient(baseURL, peerName string, identity *signature.Identity, codec *signature.Codec, timeout time.Duration, log zerolog.Logger) *CoordinatorClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoordinatorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		peerName:   peerName,
		identity:   identity,
		codec:      codec,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "coordinator_client").Logger(),
	}
}

func (c *CoordinatorClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Forward posts a raw envelope. Non-2xx replies are not errors; only
// configuration, signing and transport failures are.
func (c *CoordinatorClient) Forward(ctx context.Context, envelope []byte) (*ForwardResult, error) {
	if !c.Configured() {
		return nil, ErrCoordinatorNotConfigured
	}

	var body bytes.Buffer
	if err := json.Compact(&body, envelope); err != nil {
		return nil, fmt.Errorf("compact envelope: %w", err)
	}

	sig, err := c.codec.SignWithKey(c.identity.ServiceName, c.identity.PrivateKey(), body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign outbound envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+coordinatorPath, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Name", c.identity.ServiceName)
	req.Header.Set("X-Signature", sig)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to coordinator: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read coordinator response: %w", err)
	}

	result := &ForwardResult{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Header:     resp.Header.Clone(),
	}
	result.Verified = c.verifyResponse(resp.Header.Get("X-Signature"), respBody)

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Bool("verified", result.Verified).
		Msg("coordinator responded")
	return result, nil
}

func (c *CoordinatorClient) verifyResponse(sig string, body []byte) bool {
	key, ok := c.identity.PeerKey(c.peerName)
	if !ok || sig == "" {
		return false
	}
	if err := c.codec.Check(c.peerName, sig, key, body); err != nil {
		c.log.Warn().Err(err).Msg("coordinator response signature did not verify")
		return false
	}
	return true
}
