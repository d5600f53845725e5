// Package transport carries wire messages between peers over WebSocket.
// The protocol core never opens connections; it only produces and consumes
// the envelope contents.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// EnvelopeVersion is the outer envelope format version.
const EnvelopeVersion = "1.0"

// Envelope is the outer transport record. Type carries one of the
// e2ee_hello / e2ee_finished / e2ee / e2ee_error tags consumed by message
// detection.
type Envelope struct {
	Version   string          `json:"version"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
}

// NewEnvelope wraps a wire message body for sending.
func NewEnvelope(wireType string, content any) (*Envelope, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshaling content: %w", err)
	}
	return &Envelope{
		Version:   EnvelopeVersion,
		MessageID: ksuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      wireType,
		Content:   raw,
	}, nil
}
