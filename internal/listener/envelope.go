package listener

import (
	"encoding/json"
	"fmt"

	"go.pushgate.dev/internal/queue"
)

// Envelope is the queue message body produced by the enqueueing side of the
// pipeline. The application ID is the destination key: all messages sharing
// it are handled by the same cached Handler.
type Envelope struct {
	ApplicationID  string `json:"applicationId"`
	NotificationID string `json:"notificationId,omitempty"`
}

// decodeEnvelope parses a message body into its envelope
func decodeEnvelope(msg queue.Message) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.ApplicationID == "" {
		return nil, fmt.Errorf("envelope missing applicationId")
	}
	return &env, nil
}
