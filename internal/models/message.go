package models

import (
	"time"
)

// MessageChannel identifies the transport a message travels over.
type MessageChannel string

const (
	ChannelSMS      MessageChannel = "SMS"
	ChannelMMS      MessageChannel = "MMS"
	ChannelEmail    MessageChannel = "EMAIL"
	ChannelWhatsApp MessageChannel = "WHATSAPP"
	ChannelVoice    MessageChannel = "VOICE"
)

// MessageDirection distinguishes messages we send from messages we receive.
type MessageDirection string

const (
	DirectionOutbound MessageDirection = "OUTBOUND"
	DirectionInbound  MessageDirection = "INBOUND"
)

// MessageStatus is the lifecycle state of a message. Transitions are applied
// only by the status updater.
type MessageStatus string

const (
	MessageQueued      MessageStatus = "QUEUED"
	MessageSending     MessageStatus = "SENDING"
	MessageSent        MessageStatus = "SENT"
	MessageDelivered   MessageStatus = "DELIVERED"
	MessageFailed      MessageStatus = "FAILED"
	MessageUndelivered MessageStatus = "UNDELIVERED"
	MessageCanceled    MessageStatus = "CANCELED"
	MessageReceived    MessageStatus = "RECEIVED"
)

// Message is a unit of outbound or inbound communication. ExternalID is the
// provider message id and is unique once set, which is what keeps duplicate
// webhook deliveries from materializing two records for one provider message.
type Message struct {
	ID           string            `db:"id" json:"id"`
	Content      string            `db:"content" json:"content"`
	Channel      MessageChannel    `db:"channel" json:"channel"`
	Direction    MessageDirection  `db:"direction" json:"direction"`
	From         string            `db:"from_number" json:"from"`
	To           string            `db:"to_number" json:"to"`
	Status       MessageStatus     `db:"status" json:"status"`
	ExternalID   *string           `db:"external_id" json:"externalId,omitempty"`
	ErrorCode    *string           `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage *string           `db:"error_message" json:"errorMessage,omitempty"`
	RetryCount   int               `db:"retry_count" json:"retryCount"`
	Priority     int               `db:"priority" json:"priority"`
	WorkspaceID  string            `db:"workspace_id" json:"workspaceId"`
	Metadata     map[string]string `db:"-" json:"metadata,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updatedAt"`
	DeletedAt    *time.Time        `db:"deleted_at" json:"deletedAt,omitempty"`
}
