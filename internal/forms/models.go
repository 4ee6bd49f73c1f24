// Package forms holds the form catalog: definitions stored in
// Postgres, a cached directory for fast matching, and the detector
// that decides whether an utterance is asking to start a form.
package forms

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/flow"
)

// ErrFormNotFound is returned when a form id or name resolves to
// nothing.
var ErrFormNotFound = errors.New("forms: form not found")

// Form is one fillable form. Only the latest version of a form is
// served; superseded versions stay in the database for audit.
type Form struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// Section groups questions within a form and orders them.
type Section struct {
	ID     uuid.UUID `json:"id"`
	FormID uuid.UUID `json:"form_id"`
	Title  string    `json:"title"`
	Order  int       `json:"order"`
}

// QuestionRecord is a form question as stored, before it is flattened
// into the ask order for a flow.
type QuestionRecord struct {
	ID        uuid.UUID      `json:"id"`
	SectionID uuid.UUID      `json:"section_id"`
	Label     string         `json:"label"`
	Prompt    string         `json:"prompt,omitempty"`
	Type      flow.FieldType `json:"type"`
	Required  bool           `json:"required"`
	Choices   []string       `json:"choices,omitempty"`
	Order     int            `json:"order"`
}

// Submission is a completed set of answers for one form, in the order
// the client gave them.
type Submission struct {
	ID        uuid.UUID           `json:"id"`
	FormID    uuid.UUID           `json:"form_id"`
	ClientID  string              `json:"client_id"`
	Answers   []flow.AnswerRecord `json:"answers"`
	CreatedAt time.Time           `json:"created_at"`
}

// DirectoryEntry is the matching surface for one form: its name plus
// the section and question texts, used by the detector.
type DirectoryEntry struct {
	FormID    uuid.UUID `json:"form_id"`
	FormName  string    `json:"form_name"`
	Sections  []string  `json:"sections"`
	Questions []string  `json:"questions"`
}
