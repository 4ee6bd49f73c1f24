package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType tags where in the conversation lifecycle an envelope
// belongs.
type MessageType string

const (
	TypeOnboarding  MessageType = "onboarding"
	TypeEngagement  MessageType = "engagement"
	TypeOffboarding MessageType = "offboarding"
)

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Envelope is the transport-agnostic chat message shape exchanged with
// clients.
type Envelope struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"client_id"`
	Sender    string      `json:"sender"`
	Message   string      `json:"message"`
	Form      *string     `json:"form"`
	Timestamp string      `json:"timestamp"`
}

// NewBotEnvelope stamps an outbound reply.
func NewBotEnvelope(clientID, message string, formID string) Envelope {
	env := Envelope{
		Type:      TypeEngagement,
		ClientID:  clientID,
		Sender:    SenderBot,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if formID != "" {
		env.Form = &formID
	}
	return env
}

// ParseEnvelope decodes and validates an inbound envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("engine: decode envelope: %w", err)
	}
	if strings.TrimSpace(env.ClientID) == "" {
		return Envelope{}, fmt.Errorf("engine: envelope missing client_id")
	}
	if env.Sender == "" {
		env.Sender = SenderUser
	}
	if env.Type == "" {
		env.Type = TypeEngagement
	}
	return env, nil
}

// Encode renders the envelope as the JSON wire form.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("engine: encode envelope: %w", err)
	}
	return data, nil
}
