// Package engine orchestrates one dialogue turn: load the client's
// context, route the utterance through the active flow or the intent
// and form detectors, persist the mutated context, and push replies
// through the outbox.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/flow"
	"github.com/parleyhq/parley/internal/forms"
	"github.com/parleyhq/parley/internal/generation"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/observability/metrics"
	"github.com/parleyhq/parley/internal/outbox"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/pkg/logging"
)

// exitKeywords cancel an active flow regardless of the current
// question. They match as whole tokens anywhere in the utterance.
var exitKeywords = []string{"exit", "cancel", "stop", "nevermind"}

// intentGoodbye replies close the conversation and are stamped as
// offboarding envelopes.
const intentGoodbye = "goodbye"

type classifier interface {
	Classify(ctx context.Context, text string) (intent.Prediction, error)
}

type formDetector interface {
	Detect(ctx context.Context, utterance string) (forms.Detection, error)
}

type formRepository interface {
	GetQuestionsOrdered(ctx context.Context, formID uuid.UUID) ([]flow.Question, error)
	SaveSubmission(ctx context.Context, formID uuid.UUID, clientID string, answers []flow.AnswerRecord) (uuid.UUID, error)
}

type contextStore interface {
	Load(ctx context.Context, clientID string) *session.Context
	Save(ctx context.Context, clientID string, sc *session.Context) error
}

type turnLocker interface {
	AcquireWait(ctx context.Context, clientID string, pollEvery time.Duration) (func(), error)
}

// reply is one outbound message before it is stamped into an
// envelope at enqueue time.
type reply struct {
	text string
	kind MessageType
	form string
}

// Engine handles inbound messages end to end.
type Engine struct {
	sessions     contextStore
	locks        turnLocker
	classifier   classifier
	detector     formDetector
	forms        formRepository
	generator    generation.Service
	outbox       *outbox.Queue
	responses    *intent.ResponseCatalog
	metrics      *metrics.DialogueMetrics
	logger       *logging.Logger
	historyLimit int
	maxAttempts  int
}

// Options carries the collaborators an Engine needs.
type Options struct {
	Sessions     contextStore
	Locks        turnLocker
	Classifier   classifier
	Detector     formDetector
	Forms        formRepository
	Generator    generation.Service
	Outbox       *outbox.Queue
	Responses    *intent.ResponseCatalog
	Metrics      *metrics.DialogueMetrics
	Logger       *logging.Logger
	HistoryLimit int

	// MaxInvalidAttempts is the per-question budget for started flows.
	// Zero keeps the flow package default.
	MaxInvalidAttempts int
}

func New(opts Options) (*Engine, error) {
	if opts.Sessions == nil || opts.Locks == nil || opts.Classifier == nil ||
		opts.Detector == nil || opts.Forms == nil || opts.Outbox == nil || opts.Responses == nil {
		return nil, errors.New("engine: missing required collaborator")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Engine{
		sessions:     opts.Sessions,
		locks:        opts.Locks,
		classifier:   opts.Classifier,
		detector:     opts.Detector,
		forms:        opts.Forms,
		generator:    opts.Generator,
		outbox:       opts.Outbox,
		responses:    opts.Responses,
		metrics:      opts.Metrics,
		logger:       opts.Logger.Named("engine"),
		historyLimit: opts.HistoryLimit,
		maxAttempts:  opts.MaxInvalidAttempts,
	}, nil
}

// HandleMessage processes one inbound utterance for a client and
// delivers any replies through deliver. The whole load-mutate-save
// cycle runs under the client's turn lock so two messages from the
// same client cannot clobber each other's context.
func (e *Engine) HandleMessage(ctx context.Context, clientID, text string, deliver outbox.DeliverFunc) error {
	release, err := e.locks.AcquireWait(ctx, clientID, 0)
	if err != nil {
		return fmt.Errorf("engine: acquire turn lock: %w", err)
	}
	defer release()

	sc := e.sessions.Load(ctx, clientID)
	sc.AppendTranscript(generation.RoleUser, text, e.historyLimit)

	replies := e.route(ctx, clientID, text, sc)

	for _, r := range replies {
		sc.AppendTranscript(generation.RoleAssistant, r.text, e.historyLimit)
	}
	if err := e.sessions.Save(ctx, clientID, sc); err != nil {
		e.logger.Error("failed to save session", "client_id", clientID, "error", err)
	}

	// The queue holds fully stamped envelopes so the transport only
	// has to write them through.
	for _, r := range replies {
		env := NewBotEnvelope(clientID, r.text, r.form)
		if r.kind != "" {
			env.Type = r.kind
		}
		payload, err := env.Encode()
		if err != nil {
			e.logger.Error("failed to encode reply envelope", "client_id", clientID, "error", err)
			continue
		}
		if err := e.outbox.Enqueue(ctx, clientID, string(payload)); err != nil {
			// A dropped enqueue is logged, not fatal: the transport
			// layer retries the whole turn on its own.
			e.logger.Error("failed to enqueue reply", "client_id", clientID, "error", err)
		}
	}

	delivered, err := e.outbox.Drain(ctx, clientID, deliver)
	e.metrics.ObserveDelivered(delivered)
	if err != nil {
		return fmt.Errorf("engine: drain replies: %w", err)
	}
	return nil
}

// route decides what to say. It mutates the context in place and
// returns the replies in delivery order.
func (e *Engine) route(ctx context.Context, clientID, text string, sc *session.Context) []reply {
	if sc.ActiveFlow.Active() {
		return e.continueFlow(ctx, clientID, text, sc)
	}

	det, err := e.detector.Detect(ctx, text)
	if err == nil && det.Matched() && det.WantsStart {
		return e.startFlow(ctx, det, sc)
	}

	start := time.Now()
	pred, err := e.classifier.Classify(ctx, text)
	if err != nil {
		// Classification failures degrade to the invalid intent, never
		// to a user-visible error.
		e.logger.Warn("classification failed", "client_id", clientID, "error", err)
		e.metrics.ObserveClassifyLatency("error", time.Since(start).Seconds())
		pred = intent.Prediction{Intent: intent.IntentInvalid}
	} else {
		e.metrics.ObserveClassifyLatency("ok", time.Since(start).Seconds())
	}
	e.metrics.ObserveIntent(pred.Intent)
	sc.LastIntent = pred.Intent

	if pred.Intent != intent.IntentInvalid {
		e.metrics.ObserveTurn("canned")
		kind := TypeEngagement
		if pred.Intent == intentGoodbye {
			kind = TypeOffboarding
		}
		return []reply{{text: e.responses.Respond(pred.Intent), kind: kind}}
	}

	// Nothing matched confidently; fall through to free-form
	// generation when one is wired, otherwise the canned fallback.
	if e.generator != nil {
		if out, ok := e.generate(ctx, clientID, text, sc); ok {
			e.metrics.ObserveTurn("generated")
			return []reply{{text: out, kind: TypeEngagement}}
		}
	}
	e.metrics.ObserveTurn("fallback")
	return []reply{{text: e.responses.Respond(intent.IntentInvalid), kind: TypeEngagement}}
}

func (e *Engine) continueFlow(ctx context.Context, clientID, text string, sc *session.Context) []reply {
	f := sc.ActiveFlow

	if isExitKeyword(text) {
		f.Abandon()
		sc.ActiveFlow = nil
		e.metrics.ObserveFlowOutcome("cancelled")
		e.metrics.ObserveTurn("flow")
		return []reply{{
			text: fmt.Sprintf("No problem, I've cancelled the '%s' form. Is there anything else I can help you with?", f.FormName),
			kind: TypeEngagement,
			form: f.FormID,
		}}
	}

	res, err := f.Answer(text)
	if err != nil {
		e.logger.Error("flow rejected answer", "client_id", clientID, "error", err)
		sc.ActiveFlow = nil
		return []reply{{text: e.responses.Respond(intent.IntentInvalid), kind: TypeEngagement}}
	}
	e.metrics.ObserveTurn("flow")

	switch {
	case res.Completed:
		e.metrics.ObserveFlowOutcome("completed")
		sc.ActiveFlow = nil
		sc.LeadCaptured = true
		formID, perr := uuid.Parse(f.FormID)
		if perr == nil {
			if _, serr := e.forms.SaveSubmission(ctx, formID, clientID, f.Answers); serr != nil {
				e.logger.Error("failed to persist submission", "client_id", clientID, "form_id", f.FormID, "error", serr)
			}
		}
		return []reply{{text: res.Reply, kind: TypeOffboarding, form: f.FormID}}
	case res.Abandoned:
		e.metrics.ObserveFlowOutcome("abandoned")
		sc.ActiveFlow = nil
		return []reply{{text: res.Reply, kind: TypeEngagement, form: f.FormID}}
	default:
		return []reply{{text: res.Reply, kind: TypeEngagement, form: f.FormID}}
	}
}

func (e *Engine) startFlow(ctx context.Context, det forms.Detection, sc *session.Context) []reply {
	formID, err := uuid.Parse(det.FormID)
	if err != nil {
		e.logger.Error("detector produced malformed form id", "form_id", det.FormID, "error", err)
		return []reply{{text: e.responses.Respond(intent.IntentInvalid), kind: TypeEngagement}}
	}

	questions, err := e.forms.GetQuestionsOrdered(ctx, formID)
	if err != nil {
		if errors.Is(err, forms.ErrFormNotFound) {
			return []reply{{text: fmt.Sprintf("Sorry, I couldn't find the '%s' form right now.", det.FormName), kind: TypeEngagement}}
		}
		e.logger.Error("failed to load form questions", "form_id", det.FormID, "error", err)
		return []reply{{text: fmt.Sprintf("Sorry, I couldn't open the '%s' form right now. Please try again later.", det.FormName), kind: TypeEngagement}}
	}

	f, err := flow.New(det.FormID, det.FormName, questions)
	if err != nil {
		e.logger.Error("failed to start flow", "form_id", det.FormID, "error", err)
		return []reply{{text: e.responses.Respond(intent.IntentInvalid), kind: TypeEngagement}}
	}
	f.MaxAttempts = e.maxAttempts
	sc.ActiveFlow = f
	e.metrics.ObserveTurn("flow_start")

	q, _ := f.CurrentQuestion()
	return []reply{
		{text: fmt.Sprintf("Great, let's get started on the '%s' form.", det.FormName), kind: TypeEngagement, form: det.FormID},
		{text: q.Text(), kind: TypeEngagement, form: det.FormID},
	}
}

func (e *Engine) generate(ctx context.Context, clientID, text string, sc *session.Context) (string, bool) {
	history := make([]generation.Turn, 0, len(sc.Transcript))
	for _, entry := range sc.Transcript {
		history = append(history, generation.Turn{Role: entry.Role, Content: entry.Content})
	}
	// The current utterance is already in the transcript; the
	// generator wants it separately.
	if n := len(history); n > 0 && history[n-1].Role == generation.RoleUser {
		history = history[:n-1]
	}

	start := time.Now()
	resp, err := e.generator.Answer(ctx, generation.Request{
		System:      "You are a helpful assistant for this business. Answer briefly and accurately.",
		History:     history,
		UserMessage: text,
	})
	e.metrics.ObserveGenerateLatency(time.Since(start).Seconds())
	if err != nil {
		e.logger.Warn("generation failed", "client_id", clientID, "error", err)
		return "", false
	}
	return resp.Text, true
}

func isExitKeyword(text string) bool {
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:'\"")
		for _, kw := range exitKeywords {
			if tok == kw {
				return true
			}
		}
	}
	return false
}
