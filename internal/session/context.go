// Package session stores per-client dialogue context in Redis with a
// sliding expiry, so any conversation that stays active keeps its
// state and idle ones age out.
package session

import (
	"strings"

	"github.com/parleyhq/parley/internal/flow"
)

// TranscriptEntry is one exchange recorded in the rolling transcript.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is everything the engine remembers about one client between
// turns. A fresh context carries no flow, no captured lead, and no
// prior intent.
type Context struct {
	ActiveFlow   *flow.Flow        `json:"active_flow,omitempty"`
	LeadCaptured bool              `json:"lead_captured"`
	LastIntent   string            `json:"last_intent,omitempty"`
	Transcript   []TranscriptEntry `json:"transcript,omitempty"`
}

// NewContext returns the state every unknown client starts from.
func NewContext() *Context {
	return &Context{}
}

// AppendTranscript records an exchange, dropping the oldest entries
// once the transcript exceeds limit.
func (c *Context) AppendTranscript(role, content string, limit int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	c.Transcript = append(c.Transcript, TranscriptEntry{Role: role, Content: content})
	if limit > 0 && len(c.Transcript) > limit {
		c.Transcript = c.Transcript[len(c.Transcript)-limit:]
	}
}
