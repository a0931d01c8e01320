// Package service implements webhook authentication for the remote systems.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// Authenticator verifies that inbound notifications are genuinely from the
// remote system sharing the configured secret, and answers the system's
// one-time registration handshake.
//
// Signatures are HMAC-SHA256 over the exact received bytes. The raw body must
// be captured before any JSON parsing, because the remote system signs the
// bytes it sent; re-serializing a parsed object is not byte-identical.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for one remote system's shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Signature computes the hex-encoded HMAC-SHA256 of body under the shared secret.
func (a *Authenticator) Signature(body []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header supplied by the remote system
// against the exact raw request body. The comparison is constant-time.
// A failure means the event must be rejected before any processing begins.
func (a *Authenticator) VerifySignature(rawBody []byte, signature string) error {
	expected := a.Signature(rawBody)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return webhookDomain.ErrInvalidSignature
	}
	return nil
}

// HandshakeResponse computes the response to the remote system's one-time
// "verify this secret" challenge: HMAC-SHA256 of the challenge nonce, to be
// returned in a response header. This is a registration step, not a per-event check.
func (a *Authenticator) HandshakeResponse(nonce string) string {
	return a.Signature([]byte(nonce))
}
