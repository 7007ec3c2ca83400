package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tribsms/internal/models"
	"tribsms/internal/status"
	"tribsms/internal/storage/storagetest"
)

const (
	testSecret  = "auth-token"
	testBaseURL = "https://sms.example.com"
)

func newTestHandler(store *storagetest.MemStore) *Handler {
	return NewHandler(store, status.NewUpdater(store, "twilio"), testSecret, testBaseURL)
}

func seed(store *storagetest.MemStore, sid string, deliveryStatus models.DeliveryStatus) {
	store.SeedMessage(&models.Message{
		ID:     "msg-1",
		From:   "+15551230000",
		To:     "+15557654321",
		Status: models.MessageSent,
	})
	ext := sid
	store.SeedDelivery(&models.Delivery{
		ID:                 "del-1",
		MessageID:          "msg-1",
		Provider:           "twilio",
		Status:             deliveryStatus,
		ExternalDeliveryID: &ext,
		Attempts:           1,
		CallbackStatus:     models.CallbackPending,
	})
}

func postWebhook(t *testing.T, h *Handler, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		sig := ComputeSignature(testSecret, testBaseURL+"/webhooks/twilio/status", []byte(body))
		req.Header.Set(SignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func deliveredForm(sid string) url.Values {
	return url.Values{
		"MessageSid":    {sid},
		"MessageStatus": {"delivered"},
		"To":            {"+15557654321"},
		"From":          {"+15551230000"},
	}
}

func TestWebhookDelivered(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	rr := postWebhook(t, h, deliveredForm("SM123"), true)
	require.Equal(t, http.StatusOK, rr.Code)

	var res ProcessResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.StatusUpdated)
	assert.Equal(t, "del-1", res.DeliveryID)
	assert.Equal(t, string(models.DeliveryDelivered), res.NewStatus)

	assert.Equal(t, models.MessageDelivered, store.Message("msg-1").Status)
	d := store.Delivery("msg-1")
	assert.Equal(t, models.DeliveryDelivered, d.Status)
	assert.Equal(t, models.CallbackCompleted, d.CallbackStatus)
}

func TestWebhookDuplicateSuppression(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	rr := postWebhook(t, h, deliveredForm("SM123"), true)
	var first ProcessResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	assert.True(t, first.StatusUpdated)

	writes := store.DeliveryWrites
	rr = postWebhook(t, h, deliveredForm("SM123"), true)
	require.Equal(t, http.StatusOK, rr.Code)

	var second ProcessResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.False(t, second.StatusUpdated)
	assert.Equal(t, writes, store.DeliveryWrites, "no writes on the duplicate")
	assert.Equal(t, models.DeliveryDelivered, store.Delivery("msg-1").Status)
}

func TestWebhookIgnoresNonDeliveryStatus(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySending)
	h := newTestHandler(store)

	form := deliveredForm("SM123")
	form.Set("MessageStatus", "queued")
	rr := postWebhook(t, h, form, true)

	require.Equal(t, http.StatusOK, rr.Code)
	var res ProcessResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "Webhook ignored - not a delivery status", res.Message)
	assert.Equal(t, models.DeliverySending, store.Delivery("msg-1").Status, "no DB writes")
}

func TestWebhookUnknownSid(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	rr := postWebhook(t, h, deliveredForm("SM999"), true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.DeliverySent, store.Delivery("msg-1").Status)
}

func TestWebhookFailedCapturesError(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	form := deliveredForm("SM123")
	form.Set("MessageStatus", "failed")
	form.Set("ErrorCode", "30003")
	form.Set("ErrorMessage", "Unreachable destination handset")
	rr := postWebhook(t, h, form, true)
	require.Equal(t, http.StatusOK, rr.Code)

	d := store.Delivery("msg-1")
	assert.Equal(t, models.DeliveryFailed, d.Status)
	assert.Equal(t, 2, d.Attempts, "failure path increments attempts")
	require.NotNil(t, d.ErrorCode)
	assert.Equal(t, "30003", *d.ErrorCode)
	assert.Equal(t, models.MessageFailed, store.Message("msg-1").Status)
}

func TestWebhookSmsStatusVariant(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	form := deliveredForm("SM123")
	form.Del("MessageStatus")
	form.Set("SmsStatus", "delivered")
	rr := postWebhook(t, h, form, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.DeliveryDelivered, store.Delivery("msg-1").Status)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	rr := postWebhook(t, h, deliveredForm("SM123"), false)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, models.DeliverySent, store.Delivery("msg-1").Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	body := deliveredForm("SM123").Encode()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, ComputeSignature("wrong-secret", testBaseURL+"/webhooks/twilio/status", []byte(body)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	store := storagetest.New()
	h := newTestHandler(store)

	form := url.Values{"MessageStatus": {"delivered"}}
	rr := postWebhook(t, h, form, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "MessageSid is required")
}

func TestWebhookJSONPayload(t *testing.T) {
	store := storagetest.New()
	seed(store, "SM123", models.DeliverySent)
	h := newTestHandler(store)

	body := `{"MessageSid":"SM123","MessageStatus":"delivered","To":"+15557654321","From":"+15551230000"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, testBaseURL+"/webhooks/twilio/status", []byte(body)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.DeliveryDelivered, store.Delivery("msg-1").Status)
}
