// Package generation is the free-form answer path: when a turn is
// neither a form interaction nor a confidently classified intent, the
// engine hands the utterance and recent transcript to a text
// generation model.
package generation

import "context"

// Turn is one prior exchange passed as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request carries everything a generator needs for one answer.
type Request struct {
	System      string
	History     []Turn
	UserMessage string
	MaxTokens   int32
	Temperature float32
}

// Response is the generated answer.
type Response struct {
	Text       string
	StopReason string
}

// Service produces a free-form answer for one turn.
type Service interface {
	Answer(ctx context.Context, req Request) (Response, error)
}
