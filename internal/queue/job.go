package queue

import (
	"tribsms/internal/twilio"
)

// SendJob is the payload of one queued send. RetryAttempt starts at 0 and
// is incremented by the consumer on each redelivery.
type SendJob struct {
	MessageID      string                  `json:"messageId"`
	ProviderConfig *twilio.ProviderConfig  `json:"providerConfig"`
	MessageData    *twilio.OutboundMessage `json:"messageData"`
	WorkspaceID    string                  `json:"workspaceId"`
	RetryAttempt   int                     `json:"retryAttempt"`
	Priority       int                     `json:"priority,omitempty"`
}
