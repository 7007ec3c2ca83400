package status

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tribsms/internal/models"
	"tribsms/internal/storage/storagetest"
)

func seedMessage(store *storagetest.MemStore, id string, st models.MessageStatus) {
	store.SeedMessage(&models.Message{
		ID:        id,
		Content:   "hello",
		Channel:   models.ChannelSMS,
		Direction: models.DirectionOutbound,
		From:      "+15551230000",
		To:        "+15557654321",
		Status:    st,
	})
}

func TestUpdateStatusHappyPath(t *testing.T) {
	store := storagetest.New()
	seedMessage(store, "msg-1", models.MessageQueued)
	u := NewUpdater(store, "twilio")

	require.NoError(t, u.UpdateStatus(context.Background(), "msg-1", models.MessageSending))

	msg := store.Message("msg-1")
	assert.Equal(t, models.MessageSending, msg.Status)

	d := store.Delivery("msg-1")
	require.NotNil(t, d, "delivery is created lazily on first status write")
	assert.Equal(t, models.DeliverySending, d.Status)
	assert.Equal(t, "twilio", d.Provider)
	assert.Equal(t, 1, d.Attempts)
}

func TestUpdateWithExternalIDIdempotent(t *testing.T) {
	store := storagetest.New()
	seedMessage(store, "msg-1", models.MessageSending)
	u := NewUpdater(store, "twilio")

	require.NoError(t, u.UpdateWithExternalID(context.Background(), "msg-1", models.MessageSent, "SM123"))
	writesAfterFirst := store.MessageWrites

	// second identical call succeeds but writes nothing
	require.NoError(t, u.UpdateWithExternalID(context.Background(), "msg-1", models.MessageSent, "SM123"))
	assert.Equal(t, writesAfterFirst, store.MessageWrites)

	msg := store.Message("msg-1")
	require.NotNil(t, msg.ExternalID)
	assert.Equal(t, "SM123", *msg.ExternalID)
	assert.Equal(t, models.MessageSent, msg.Status)
}

func TestUpdateWithErrorIncrementsAttempts(t *testing.T) {
	store := storagetest.New()
	seedMessage(store, "msg-1", models.MessageSending)
	u := NewUpdater(store, "twilio")

	require.NoError(t, u.UpdateWithError(context.Background(), "msg-1", models.MessageFailed, "PROCESSING_ERROR", "boom"))
	d := store.Delivery("msg-1")
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Attempts, "lazily created delivery starts at 1")

	// a later distinct error increments relative to the stored value
	seedMessage(store, "msg-1", models.MessageSending)
	require.NoError(t, u.UpdateWithError(context.Background(), "msg-1", models.MessageFailed, "PROCESSING_ERROR", "boom again"))
	d = store.Delivery("msg-1")
	assert.Equal(t, 2, d.Attempts)
	require.NotNil(t, d.ErrorMessage)
	assert.Equal(t, "boom again", *d.ErrorMessage)

	msg := store.Message("msg-1")
	require.NotNil(t, msg.ErrorCode)
	assert.Equal(t, "PROCESSING_ERROR", *msg.ErrorCode)
}

func TestUpdateStatusValidation(t *testing.T) {
	u := NewUpdater(storagetest.New(), "twilio")
	ctx := context.Background()

	assert.EqualError(t, u.UpdateStatus(ctx, "", models.MessageSent), "message ID is required")
	assert.EqualError(t, u.UpdateStatus(ctx, "msg-1", ""), "status is required")
	assert.EqualError(t, u.UpdateWithExternalID(ctx, "msg-1", models.MessageSent, ""), "external ID is required")
	assert.EqualError(t, u.UpdateWithError(ctx, "msg-1", models.MessageFailed, "", "boom"), "error code and error message are required")
	assert.EqualError(t, u.UpdateWithError(ctx, "msg-1", models.MessageFailed, "CODE", ""), "error code and error message are required")
}

func TestUpdateStatusMessageNotFound(t *testing.T) {
	u := NewUpdater(storagetest.New(), "twilio")

	err := u.UpdateStatus(context.Background(), "ghost", models.MessageSent)
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "message not found: ghost", err.Error())
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	store := storagetest.New()
	seedMessage(store, "msg-1", models.MessageQueued)
	u := NewUpdater(store, "twilio")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		status := models.MessageSent
		if i == 1 {
			status = models.MessageFailed
		}
		wg.Add(1)
		go func(st models.MessageStatus) {
			defer wg.Done()
			if st == models.MessageFailed {
				_ = u.UpdateWithError(context.Background(), "msg-1", st, "PROCESSING_ERROR", "late failure")
			} else {
				_ = u.UpdateStatus(context.Background(), "msg-1", st)
			}
		}(status)
	}
	wg.Wait()

	// the loser observed the winner's post-state inside its own
	// transaction; message and delivery always agree afterwards
	msg := store.Message("msg-1")
	assert.Contains(t, []models.MessageStatus{models.MessageSent, models.MessageFailed}, msg.Status)

	d := store.Delivery("msg-1")
	require.NotNil(t, d)
	assert.Equal(t, models.DeliveryStatusFor(msg.Status), d.Status)
}
