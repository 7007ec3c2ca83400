package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
)

// ComputeSignature returns the base64 HMAC-SHA1 of the fully reconstructed
// request URL concatenated with the raw body, keyed by the provider shared
// secret. This matches the signature Twilio sends in X-Twilio-Signature.
func ComputeSignature(secret, url string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a signature header in constant time. Mismatched
// lengths and undecodable headers both report false, never an error.
func ValidateSignature(secret, url string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(ComputeSignature(secret, url, body))
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	if len(expected) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, got) == 1
}
