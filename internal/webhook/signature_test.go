package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureRoundTrip(t *testing.T) {
	secret := "auth-token"
	url := "https://sms.example.com/webhooks/twilio/status"
	body := []byte("MessageSid=SM123&MessageStatus=delivered")

	sig := ComputeSignature(secret, url, body)
	assert.True(t, ValidateSignature(secret, url, body, sig))
}

func TestSignatureRejectsPerturbations(t *testing.T) {
	secret := "auth-token"
	url := "https://sms.example.com/webhooks/twilio/status"
	body := []byte("MessageSid=SM123&MessageStatus=delivered")
	sig := ComputeSignature(secret, url, body)

	assert.False(t, ValidateSignature(secret, url, []byte("MessageSid=SM124&MessageStatus=delivered"), sig), "body differs")
	assert.False(t, ValidateSignature(secret, url+"x", body, sig), "url differs")
	assert.False(t, ValidateSignature(secret+"x", url, body, sig), "secret differs")
}

func TestSignatureRejectsBadInputs(t *testing.T) {
	url := "https://sms.example.com/webhooks/twilio/status"
	body := []byte("x=y")

	assert.False(t, ValidateSignature("", url, body, ComputeSignature("s", url, body)), "missing secret")
	assert.False(t, ValidateSignature("s", url, body, ""), "missing header")
	assert.False(t, ValidateSignature("s", url, body, "not base64!!!"), "undecodable header")
	assert.False(t, ValidateSignature("s", url, body, "c2hvcnQ="), "wrong length")
}
