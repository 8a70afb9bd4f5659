// Package signature implements the EduCore service-to-service message
// signing scheme: ECDSA P-256 over SHA-256 of a canonical message string.
package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gowebpki/jcs"
)

const messagePrefix = "educoreai"

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidEncoding  = errors.New("invalid encoding")
)

// Mode selects how payload bytes are canonicalized before hashing.
type Mode string

const (
	// ModeCompact keeps key order and strips insignificant whitespace,
	// matching JSON.stringify on the peer side.
	ModeCompact Mode = "compact"
	// ModeJCS applies RFC 8785 canonicalization.
	ModeJCS Mode = "jcs"
)

// ParseMode maps a config value to a Mode, defaulting to ModeCompact.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCompact:
		return ModeCompact, nil
	case ModeJCS:
		return ModeJCS, nil
	default:
		return "", fmt.Errorf("unknown canonicalization mode %q", s)
	}
}

type Codec struct {
	mode Mode
}

func NewCodec(mode Mode) *Codec {
	if mode == "" {
		mode = ModeCompact
	}
	return &Codec{mode: mode}
}

// Mode reports the canonicalization mode in use.
func (c *Codec) Mode() Mode { return c.mode }

// Canonicalize returns the bytes that get hashed for payload.
func (c *Codec) Canonicalize(payload []byte) ([]byte, error) {
	switch c.mode {
	case ModeJCS:
		out, err := jcs.Transform(payload)
		if err != nil {
			return nil, fmt.Errorf("jcs transform: %w", err)
		}
		return out, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err != nil {
			return nil, fmt.Errorf("compact payload: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// Message builds the canonical signing string. An empty payload means the
// signature covers the service name only.
func (c *Codec) Message(serviceName string, payload []byte) (string, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return messagePrefix + "-" + serviceName, nil
	}
	canonical, err := c.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return messagePrefix + "-" + serviceName + "-" + hex.EncodeToString(sum[:]), nil
}

// Sign parses privateKeyPEM and signs the canonical message.
func (c *Codec) Sign(serviceName, privateKeyPEM string, payload []byte) (string, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return c.SignWithKey(serviceName, key, payload)
}

// SignWithKey returns a base64 ASN.1 DER signature over the canonical message.
func (c *Codec) SignWithKey(serviceName string, key *ecdsa.PrivateKey, payload []byte) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: private key is missing", ErrInvalidKey)
	}
	msg, err := c.Message(serviceName, payload)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(msg))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return strings.TrimSpace(base64.StdEncoding.EncodeToString(sig)), nil
}

// Verify reports whether signature is valid. It never fails loudly: any
// malformed key, signature, or payload yields false.
func (c *Codec) Verify(serviceName, signature, publicKeyPEM string, payload []byte) bool {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}
	return c.Check(serviceName, signature, key, payload) == nil
}

// Check verifies signature and explains failures. ErrInvalidKey means the
// verifier's own key is unusable; the other errors blame the signer.
func (c *Codec) Check(serviceName, signature string, key *ecdsa.PublicKey, payload []byte) error {
	if key == nil {
		return fmt.Errorf("%w: public key is missing", ErrInvalidKey)
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	msg, err := c.Message(serviceName, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	digest := sha256.Sum256([]byte(msg))

	var der struct {
		R, S *big.Int
	}
	if rest, err := asn1.Unmarshal(sig, &der); err == nil && len(rest) == 0 {
		if ecdsa.VerifyASN1(key, digest[:], sig) {
			return nil
		}
		return ErrInvalidSignature
	}
	// Raw r||s, as produced by JOSE-style signers.
	if len(sig) != 64 {
		return ErrInvalidEncoding
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	if !ecdsa.Verify(key, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// decodeSignature accepts standard, raw, and URL-safe base64.
func decodeSignature(in string) ([]byte, error) {
	s := strings.TrimSpace(in)
	if s == "" {
		return nil, ErrInvalidEncoding
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidEncoding
}

// Marshal encodes v the way the peer's JSON.stringify does: compact and
// without HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
