// Package flow implements the guided question-and-answer state machine
// that walks a client through a form one field at a time.
package flow

import (
	"fmt"
	"strings"
)

// State is the lifecycle phase of a flow.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateAbandoned  State = "abandoned"
)

// FieldType drives answer validation for a question.
type FieldType string

const (
	FieldText           FieldType = "text"
	FieldNumber         FieldType = "number"
	FieldBoolean        FieldType = "boolean"
	FieldSingleChoice   FieldType = "single_choice"
	FieldMultipleChoice FieldType = "multiple_choice"
	FieldDateTime       FieldType = "datetime"
)

// Question is one form field presented to the client. Prompt is the
// question text shown to the client; when empty the label is used.
type Question struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Prompt   string    `json:"prompt,omitempty"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Choices  []string  `json:"choices,omitempty"`
}

// Text returns the question as shown to the client.
func (q Question) Text() string {
	if strings.TrimSpace(q.Prompt) != "" {
		return q.Prompt
	}
	return q.Label
}

// AnswerRecord is one collected answer. Records accumulate in the
// order the questions were answered.
type AnswerRecord struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	FormID     string `json:"form_id"`
}

// Flow tracks a single client's progress through one form. The whole
// struct round-trips through JSON so it can live inside the session
// context between turns.
type Flow struct {
	FormID          string         `json:"form_id"`
	FormName        string         `json:"form_name"`
	Questions       []Question     `json:"questions"`
	Index           int            `json:"index"`
	Answers         []AnswerRecord `json:"answers"`
	InvalidAttempts int            `json:"invalid_attempts"`

	// MaxAttempts is the per-question invalid-answer budget. Zero
	// means MaxInvalidAttempts.
	MaxAttempts int   `json:"max_attempts,omitempty"`
	State       State `json:"state"`
}

// MaxInvalidAttempts is the default per-question budget before a flow
// is abandoned.
const MaxInvalidAttempts = 3

// New starts a flow over the given questions. The question order is
// the order they will be asked in.
func New(formID, formName string, questions []Question) (*Flow, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("flow: form %q has no questions", formName)
	}
	return &Flow{
		FormID:    formID,
		FormName:  formName,
		Questions: questions,
		Answers:   make([]AnswerRecord, 0, len(questions)),
		State:     StateInProgress,
	}, nil
}

func (f *Flow) attemptLimit() int {
	if f.MaxAttempts > 0 {
		return f.MaxAttempts
	}
	return MaxInvalidAttempts
}

// AnswerValue returns the recorded answer for a question id.
func (f *Flow) AnswerValue(questionID string) (string, bool) {
	for _, a := range f.Answers {
		if a.QuestionID == questionID {
			return a.Answer, true
		}
	}
	return "", false
}

// Active reports whether the flow still expects answers.
func (f *Flow) Active() bool {
	return f != nil && f.State == StateInProgress
}

// CurrentQuestion returns the question awaiting an answer, or false
// when the flow is not accepting input.
func (f *Flow) CurrentQuestion() (Question, bool) {
	if !f.Active() || f.Index >= len(f.Questions) {
		return Question{}, false
	}
	return f.Questions[f.Index], true
}

// Result is the outcome of feeding one answer to the flow.
type Result struct {
	// Reply is the next thing to say to the client: a retry prompt, the
	// next question, or the completion message.
	Reply     string
	Completed bool
	Abandoned bool
}

// Answer validates the input against the current question. A valid
// answer is recorded and the flow advances; an invalid one costs an
// attempt, and spending the whole attempt budget abandons the flow.
// The completion message is produced exactly once, on the transition
// to the completed state.
func (f *Flow) Answer(input string) (Result, error) {
	q, ok := f.CurrentQuestion()
	if !ok {
		return Result{}, fmt.Errorf("flow: %q is not accepting answers in state %s", f.FormName, f.State)
	}

	normalized, verr := validateAnswer(q, input)
	if verr != "" {
		f.InvalidAttempts++
		if f.InvalidAttempts >= f.attemptLimit() {
			f.InvalidAttempts = 0
			f.State = StateAbandoned
			return Result{
				Reply:     fmt.Sprintf("It looks like we're having trouble with this form. Let's stop here for now. You can say \"%s\" to try again anytime.", f.FormName),
				Abandoned: true,
			}, nil
		}
		return Result{Reply: verr + " " + q.Text()}, nil
	}

	f.Answers = append(f.Answers, AnswerRecord{QuestionID: q.ID, Answer: normalized, FormID: f.FormID})
	f.InvalidAttempts = 0
	f.Index++

	if f.Index >= len(f.Questions) {
		f.State = StateCompleted
		return Result{
			Reply:     fmt.Sprintf("Thank you for completing the '%s' form!", f.FormName),
			Completed: true,
		}, nil
	}
	return Result{Reply: f.Questions[f.Index].Text()}, nil
}

// Abandon stops the flow without recording further answers. It is a
// no-op on flows that already finished.
func (f *Flow) Abandon() {
	if f.Active() {
		f.State = StateAbandoned
	}
}
