package models

import (
	"math"
	"time"
)

// DeliveryStatus is the provider-facing delivery state, coarser than
// MessageStatus.
type DeliveryStatus string

const (
	DeliveryQueued      DeliveryStatus = "QUEUED"
	DeliverySending     DeliveryStatus = "SENDING"
	DeliverySent        DeliveryStatus = "SENT"
	DeliveryDelivered   DeliveryStatus = "DELIVERED"
	DeliveryFailed      DeliveryStatus = "FAILED"
	DeliveryUndelivered DeliveryStatus = "UNDELIVERED"
	DeliveryReceiving   DeliveryStatus = "RECEIVING"
	DeliveryReceived    DeliveryStatus = "RECEIVED"
	DeliveryAccepted    DeliveryStatus = "ACCEPTED"
	DeliveryCanceled    DeliveryStatus = "CANCELED"
	DeliveryPending     DeliveryStatus = "PENDING"
)

// CallbackStatus tracks webhook processing for a delivery.
type CallbackStatus string

const (
	CallbackPending    CallbackStatus = "PENDING"
	CallbackProcessing CallbackStatus = "PROCESSING"
	CallbackCompleted  CallbackStatus = "COMPLETED"
	CallbackFailed     CallbackStatus = "FAILED"
	CallbackRetrying   CallbackStatus = "RETRYING"
	CallbackAbandoned  CallbackStatus = "ABANDONED"
)

// Delivery is the provider-specific tracking record paired 1:1 with a
// Message. It is created lazily on the first status write and mutated only
// through the status updater.
type Delivery struct {
	ID                 string            `db:"id" json:"id"`
	MessageID          string            `db:"message_id" json:"messageId"`
	Provider           string            `db:"provider" json:"provider"`
	Status             DeliveryStatus    `db:"status" json:"status"`
	ExternalDeliveryID *string           `db:"external_delivery_id" json:"externalDeliveryId,omitempty"`
	Attempts           int               `db:"attempts" json:"attempts"`
	ErrorCode          *string           `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage       *string           `db:"error_message" json:"errorMessage,omitempty"`
	WebhookURL         *string           `db:"webhook_url" json:"webhookUrl,omitempty"`
	CallbackStatus     CallbackStatus    `db:"callback_status" json:"callbackStatus"`
	Metadata           map[string]string `db:"-" json:"metadata,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// messageToDelivery maps a message status to the delivery status recorded
// when a delivery row is created lazily.
var messageToDelivery = map[MessageStatus]DeliveryStatus{
	MessageQueued:      DeliveryQueued,
	MessageSending:     DeliverySending,
	MessageSent:        DeliverySent,
	MessageDelivered:   DeliveryDelivered,
	MessageFailed:      DeliveryFailed,
	MessageUndelivered: DeliveryUndelivered,
	MessageCanceled:    DeliveryCanceled,
	MessageReceived:    DeliveryReceived,
}

// DeliveryStatusFor returns the delivery status derived from a message
// status. Unknown statuses fall back to QUEUED.
func DeliveryStatusFor(s MessageStatus) DeliveryStatus {
	if ds, ok := messageToDelivery[s]; ok {
		return ds
	}
	return DeliveryQueued
}

// DeliveryStats summarizes delivery outcomes for the metrics endpoint.
type DeliveryStats struct {
	Total       int `json:"total"`
	Sent        int `json:"sent"`
	Delivered   int `json:"delivered"`
	Failed      int `json:"failed"`
	Undelivered int `json:"undelivered"`
	Pending     int `json:"pending"`
}

// SuccessRate returns the share of successful outcomes as an integer
// percentage, rounded half up. 8 successes out of 11 reports 73.
func SuccessRate(successes, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(successes) / float64(total) * 100))
}
