// Package crypto holds the request-signing helpers for venues that
// authenticate with HMAC API keys.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// HMACAuth holds the credential triple for an HMAC-authenticated venue API.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, raw bytes
	Passphrase string // API passphrase
}

// OKXHeaders returns the HTTP headers for an OKX v5 API request. The
// signature is HMAC-SHA256(secret, timestamp+method+requestPath+body)
// base64-encoded, with the timestamp in RFC3339 milliseconds UTC.
//
// Returned header keys:
//   - OK-ACCESS-KEY
//   - OK-ACCESS-SIGN
//   - OK-ACCESS-TIMESTAMP
//   - OK-ACCESS-PASSPHRASE
func (h *HMACAuth) OKXHeaders(method, requestPath, body string) map[string]string {
	return h.OKXHeadersAt(method, requestPath, body, time.Now().UTC())
}

// OKXHeadersAt is like OKXHeaders but lets the caller supply the timestamp
// (useful for deterministic testing).
func (h *HMACAuth) OKXHeadersAt(method, requestPath, body string, at time.Time) map[string]string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z")

	message := ts + method + requestPath + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"OK-ACCESS-KEY":        h.Key,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": h.Passphrase,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result base64 standard-encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
