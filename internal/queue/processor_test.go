package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tribsms/internal/models"
	"tribsms/internal/status"
	"tribsms/internal/storage/storagetest"
	"tribsms/internal/twilio"
)

type fakeSender struct {
	result *twilio.APIResult
	err    error
	calls  int
}

func (f *fakeSender) SendSMS(ctx context.Context, msg twilio.OutboundMessage, cfg twilio.ProviderConfig) (*twilio.APIResult, error) {
	f.calls++
	return f.result, f.err
}

func validJob() *SendJob {
	return &SendJob{
		MessageID: "msg-1",
		ProviderConfig: &twilio.ProviderConfig{
			AccountSID: "AC00000000000000000000000000000000",
			AuthToken:  "secret",
			FromNumber: "+15551230000",
		},
		MessageData: &twilio.OutboundMessage{
			Body: "hello",
			To:   "+15557654321",
		},
		WorkspaceID: "ws-1",
	}
}

func newFixture(sender *fakeSender) (*Processor, *storagetest.MemStore) {
	store := storagetest.New()
	store.SeedMessage(&models.Message{
		ID:     "msg-1",
		From:   "+15551230000",
		To:     "+15557654321",
		Status: models.MessageQueued,
	})
	return NewProcessor(status.NewUpdater(store, "twilio"), sender), store
}

func TestProcessSuccess(t *testing.T) {
	sender := &fakeSender{result: &twilio.APIResult{Success: true, ExternalID: "SM123", Status: "queued"}}
	p, store := newFixture(sender)

	require.NoError(t, p.Process(context.Background(), validJob()))
	assert.Equal(t, 1, sender.calls)

	msg := store.Message("msg-1")
	assert.Equal(t, models.MessageSent, msg.Status)
	require.NotNil(t, msg.ExternalID)
	assert.Equal(t, "SM123", *msg.ExternalID)

	d := store.Delivery("msg-1")
	require.NotNil(t, d)
	assert.Equal(t, models.DeliverySent, d.Status)
}

func TestProcessProviderFailure(t *testing.T) {
	sender := &fakeSender{result: &twilio.APIResult{
		Success: false,
		Error:   &twilio.Error{Type: twilio.ErrRateLimit, Message: "Rate limit exceeded", Retryable: true},
	}}
	p, store := newFixture(sender)

	err := p.Process(context.Background(), validJob())
	require.Error(t, err)
	assert.Equal(t, "Twilio API failed: Rate limit exceeded", err.Error())

	var sf *SendFailure
	require.ErrorAs(t, err, &sf)
	require.NotNil(t, sf.Classified)
	assert.True(t, sf.Classified.Retryable)

	msg := store.Message("msg-1")
	assert.Equal(t, models.MessageFailed, msg.Status)
	require.NotNil(t, msg.ErrorCode)
	assert.Equal(t, "PROCESSING_ERROR", *msg.ErrorCode)
	require.NotNil(t, msg.ErrorMessage)
	assert.Equal(t, "Twilio API failed: Rate limit exceeded", *msg.ErrorMessage)
}

func TestProcessUnexpectedClientError(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection reset by peer")}
	p, store := newFixture(sender)

	err := p.Process(context.Background(), validJob())
	require.Error(t, err)
	assert.Equal(t, "Twilio API failed: connection reset by peer", err.Error())
	assert.Equal(t, models.MessageFailed, store.Message("msg-1").Status)
}

func TestProcessValidation(t *testing.T) {
	sender := &fakeSender{}
	p, store := newFixture(sender)

	cases := []struct {
		name   string
		mutate func(*SendJob)
		want   string
	}{
		{"missing message id", func(j *SendJob) { j.MessageID = "" }, "message ID is required"},
		{"missing config", func(j *SendJob) { j.ProviderConfig = nil }, "twilio configuration is required"},
		{"missing data", func(j *SendJob) { j.MessageData = nil }, "message data is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := validJob()
			tc.mutate(job)
			assert.EqualError(t, p.Process(context.Background(), job), tc.want)
		})
	}

	// validation failures happen before any status mutation
	assert.Equal(t, models.MessageQueued, store.Message("msg-1").Status)
	assert.Equal(t, 0, sender.calls)
}

func TestProcessStatusTransitionSequence(t *testing.T) {
	// full happy-path sequence: QUEUED -> SENDING -> SENT with external id
	sender := &fakeSender{result: &twilio.APIResult{Success: true, ExternalID: "SM123"}}
	p, store := newFixture(sender)

	require.Equal(t, models.MessageQueued, store.Message("msg-1").Status)
	require.NoError(t, p.Process(context.Background(), validJob()))

	msg := store.Message("msg-1")
	assert.Equal(t, models.MessageSent, msg.Status)
	assert.Equal(t, "SM123", *msg.ExternalID)
	assert.Equal(t, models.DeliverySent, store.Delivery("msg-1").Status)
}
