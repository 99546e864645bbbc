// Package webhook receives GitHub webhook deliveries: verifies the HMAC
// signature over the raw body, normalizes the heterogeneous payloads into a
// uniform event envelope, appends them to the bounded feed and durable log,
// acknowledges immediately, and triggers the analysis pipeline
// asynchronously for repository-scoped events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is the header carrying "sha256=<hex-hmac>".
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature reports whether sigHeader matches the HMAC-SHA256 digest
// of body under secret. Constant-time comparison; a missing header, length
// mismatch, or digest mismatch all fail. The body must be the raw, unparsed
// request bytes — parsing first would invalidate the signature.
func VerifySignature(secret string, body []byte, sigHeader string) bool {
	if secret == "" || sigHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sigHeader))
}
