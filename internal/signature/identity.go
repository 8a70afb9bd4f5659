package signature

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is this service's signing identity plus the public keys of the
// peers it trusts.
type Identity struct {
	ServiceName string

	privateKey *ecdsa.PrivateKey
	mu         sync.RWMutex
	peers      map[string]*ecdsa.PublicKey
}

// NewIdentity parses privateKeyPEM when present. An empty key is allowed;
// signing then fails with ErrInvalidKey.
func NewIdentity(serviceName, privateKeyPEM string) (*Identity, error) {
	id := &Identity{
		ServiceName: serviceName,
		peers:       make(map[string]*ecdsa.PublicKey),
	}
	if strings.TrimSpace(privateKeyPEM) == "" {
		return id, nil
	}
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	id.privateKey = key
	return id, nil
}

// NewIdentityFromKey is used when the key is already parsed (tests, KMS).
func NewIdentityFromKey(serviceName string, key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		ServiceName: serviceName,
		privateKey:  key,
		peers:       make(map[string]*ecdsa.PublicKey),
	}
}

// PrivateKey may be nil.
func (i *Identity) PrivateKey() *ecdsa.PrivateKey { return i.privateKey }

// CanSign reports whether a private key is loaded.
func (i *Identity) CanSign() bool { return i.privateKey != nil }

// AddPeer registers a trusted peer's PEM public key.
func (i *Identity) AddPeer(serviceName, publicKeyPEM string) error {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return fmt.Errorf("peer %s: %w", serviceName, err)
	}
	i.AddPeerKey(serviceName, key)
	return nil
}

func (i *Identity) AddPeerKey(serviceName string, key *ecdsa.PublicKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.peers[serviceName] = key
}

// PeerKey returns the trusted key for serviceName.
func (i *Identity) PeerKey(serviceName string) (*ecdsa.PublicKey, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	key, ok := i.peers[serviceName]
	return key, ok
}

// ParsePrivateKey accepts SEC1 and PKCS#8 PEM. Env-style "\n" escapes are expanded.
func ParsePrivateKey(pem string) (*ecdsa.PrivateKey, error) {
	pem = normalizePEM(pem)
	if pem == "" {
		return nil, fmt.Errorf("%w: private key is missing", ErrInvalidKey)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// ParsePublicKey accepts PKIX public keys and certificates.
func ParsePublicKey(pem string) (*ecdsa.PublicKey, error) {
	pem = normalizePEM(pem)
	if pem == "" {
		return nil, fmt.Errorf("%w: public key is missing", ErrInvalidKey)
	}
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

func normalizePEM(pem string) string {
	pem = strings.TrimSpace(pem)
	pem = strings.Trim(pem, `"`)
	return strings.ReplaceAll(pem, `\n`, "\n")
}
