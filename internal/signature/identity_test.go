package signature

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	key, privPEM, pubPEM := newTestKey(t)

	id, err := NewIdentity("devlab-service", strings.ReplaceAll(privPEM, "\n", `\n`))
	require.NoError(t, err)
	assert.True(t, id.CanSign())
	assert.True(t, id.PrivateKey().Equal(key))

	require.NoError(t, id.AddPeer("coordinator", pubPEM))
	peer, ok := id.PeerKey("coordinator")
	require.True(t, ok)
	assert.True(t, peer.Equal(&key.PublicKey))

	_, ok = id.PeerKey("analytics")
	assert.False(t, ok)
}

func TestNewIdentityWithoutKey(t *testing.T) {
	id, err := NewIdentity("devlab-service", "")
	require.NoError(t, err)
	assert.False(t, id.CanSign())

	_, err = NewIdentity("devlab-service", "garbage")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParsePrivateKeySEC1(t *testing.T) {
	key, _, _ := newTestKey(t)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	sec1 := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(sec1)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(key))
}

func TestAddPeerRejectsBadKey(t *testing.T) {
	id := NewIdentityFromKey("svc", nil)
	assert.ErrorIs(t, id.AddPeer("coordinator", "nope"), ErrInvalidKey)
}
