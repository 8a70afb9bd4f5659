package infrastructure

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"educore_devlab/internal/signature"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestCoordinatorClient_Forward(t *testing.T) {
	ourKey := genKey(t)
	coordKey := genKey(t)
	codec := signature.NewCodec(signature.ModeCompact)

	identity := signature.NewIdentityFromKey("devlab-service", ourKey)
	identity.AddPeerKey("coordinator", &coordKey.PublicKey)

	reply := []byte(`{"requester_service":"content-studio","payload":{},"response":{"answer":"[]"}}`)
	replySig, err := codec.SignWithKey("coordinator", coordKey, reply)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, coordinatorPath, r.URL.Path)
		assert.Equal(t, "devlab-service", r.Header.Get("X-Service-Name"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"requester_service":"content-studio","payload":{"action":"generate-questions","question_type":"theoretical"},"response":{"answer":""}}`, string(body))
		assert.NoError(t, codec.Check("devlab-service", r.Header.Get("X-Signature"), &ourKey.PublicKey, body))

		w.Header().Set("X-Signature", replySig)
		w.WriteHeader(http.StatusAccepted)
		w.Write(reply)
	}))
	defer srv.Close()

	client := NewCoordinatorClient(srv.URL+"/", "coordinator", identity, codec, time.Second, zerolog.Nop())
	res, err := client.Forward(context.Background(), []byte(`{
		"requester_service": "content-studio",
		"payload": {"action": "generate-questions", "question_type": "theoretical"},
		"response": {"answer": ""}
	}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, reply, res.Body)
	assert.True(t, res.Verified)
}

func TestCoordinatorClient_BadResponseSignatureIsNotFatal(t *testing.T) {
	identity := signature.NewIdentityFromKey("devlab-service", genKey(t))
	identity.AddPeerKey("coordinator", &genKey(t).PublicKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Signature", "bm90LWEtc2lnbmF0dXJl")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewCoordinatorClient(srv.URL, "coordinator", identity, signature.NewCodec(""), time.Second, zerolog.Nop())
	res, err := client.Forward(context.Background(), []byte(`{"payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, res.Verified)
}

func TestCoordinatorClient_Failures(t *testing.T) {
	codec := signature.NewCodec(signature.ModeCompact)

	t.Run("not configured", func(t *testing.T) {
		client := NewCoordinatorClient("", "coordinator", signature.NewIdentityFromKey("devlab-service", genKey(t)), codec, 0, zerolog.Nop())
		_, err := client.Forward(context.Background(), []byte(`{}`))
		assert.ErrorIs(t, err, ErrCoordinatorNotConfigured)
	})

	t.Run("no private key", func(t *testing.T) {
		client := NewCoordinatorClient("http://127.0.0.1:1", "coordinator", signature.NewIdentityFromKey("devlab-service", nil), codec, 0, zerolog.Nop())
		_, err := client.Forward(context.Background(), []byte(`{}`))
		assert.ErrorIs(t, err, signature.ErrInvalidKey)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		client := NewCoordinatorClient(srv.URL, "coordinator", signature.NewIdentityFromKey("devlab-service", genKey(t)), codec, 20*time.Millisecond, zerolog.Nop())
		_, err := client.Forward(context.Background(), []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestNewLogger_Level(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewLogger("DEBUG").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("nonsense").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("").GetLevel())
}
