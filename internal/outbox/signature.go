package outbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the HMAC of the request body on outbound
// deliveries. Omitted entirely when the contract has no secret.
const SignatureHeader = "X-Hookline-Signature"

// Sign computes the signature header value for a request body:
// "sha256=" followed by the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature value against the raw body
// bytes in constant time.
func VerifySignature(secret string, body []byte, presented string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(presented))
}
