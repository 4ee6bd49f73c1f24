package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/internal/flow"
	"github.com/parleyhq/parley/internal/forms"
	"github.com/parleyhq/parley/internal/generation"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/outbox"
	"github.com/parleyhq/parley/internal/retry"
	"github.com/parleyhq/parley/internal/session"
)

const testIntents = `{
	"greeting": {"patterns": ["hello"], "responses": ["Hello! How can I help you today?"]},
	"goodbye": {"patterns": ["bye"], "responses": ["Goodbye!"]},
	"invalid": {"patterns": [], "responses": ["Sorry, I didn't understand that."]}
}`

type stubClassifier struct {
	pred intent.Prediction
	err  error
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (intent.Prediction, error) {
	return s.pred, s.err
}

type stubDetector struct {
	det forms.Detection
}

func (s *stubDetector) Detect(ctx context.Context, utterance string) (forms.Detection, error) {
	return s.det, nil
}

type stubForms struct {
	questions   []flow.Question
	getErr      error
	submissions [][]flow.AnswerRecord
}

func (s *stubForms) GetQuestionsOrdered(ctx context.Context, formID uuid.UUID) ([]flow.Question, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.questions, nil
}

func (s *stubForms) SaveSubmission(ctx context.Context, formID uuid.UUID, clientID string, answers []flow.AnswerRecord) (uuid.UUID, error) {
	s.submissions = append(s.submissions, answers)
	return uuid.New(), nil
}

type stubGenerator struct {
	resp generation.Response
	err  error
}

func (s *stubGenerator) Answer(ctx context.Context, req generation.Request) (generation.Response, error) {
	return s.resp, s.err
}

type testHarness struct {
	engine    *Engine
	sessions  *session.Store
	forms     *stubForms
	sent      []string
	envelopes []Envelope
}

func (h *testHarness) deliver(ctx context.Context, payload string) error {
	env, err := ParseEnvelope([]byte(payload))
	if err != nil {
		return err
	}
	h.envelopes = append(h.envelopes, env)
	h.sent = append(h.sent, env.Message)
	return nil
}

func newHarness(t *testing.T, cls classifier, det formDetector, repo *stubForms, gen generation.Service, modify ...func(*Options)) *testHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sessions := session.NewStore(rdb, time.Hour, nil)
	locks := session.NewKeyedLock(rdb, time.Minute)
	queue := outbox.NewQueue(rdb, time.Minute, nil).
		WithRetryPolicy(retry.Policy{Attempts: 1})
	responses, err := intent.ParseResponseCatalog([]byte(testIntents))
	if err != nil {
		t.Fatalf("failed to parse intents: %v", err)
	}

	opts := Options{
		Sessions:   sessions,
		Locks:      locks,
		Classifier: cls,
		Detector:   det,
		Forms:      repo,
		Generator:  gen,
		Outbox:     queue,
		Responses:  responses,
	}
	for _, m := range modify {
		m(&opts)
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return &testHarness{engine: eng, sessions: sessions, forms: repo}
}

func TestCannedReplyForClassifiedIntent(t *testing.T) {
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: "greeting", Confidence: 0.95}},
		&stubDetector{},
		&stubForms{},
		nil,
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "hello there", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0] != "Hello! How can I help you today?" {
		t.Errorf("unexpected replies: %v", h.sent)
	}

	sc := h.sessions.Load(context.Background(), "client-1")
	if sc.LastIntent != "greeting" {
		t.Errorf("expected last intent recorded, got %q", sc.LastIntent)
	}
}

func TestClassificationFailureDegradesToFallback(t *testing.T) {
	h := newHarness(t,
		&stubClassifier{err: intent.ErrClassification},
		&stubDetector{},
		&stubForms{},
		nil,
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "gibberish", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0] != "Sorry, I didn't understand that." {
		t.Errorf("expected fallback reply, got %v", h.sent)
	}
}

func TestInvalidIntentDelegatesToGenerator(t *testing.T) {
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{},
		&stubForms{},
		&stubGenerator{resp: generation.Response{Text: "Our hours are 9 to 5."}},
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "when are you open?", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0] != "Our hours are 9 to 5." {
		t.Errorf("expected generated reply, got %v", h.sent)
	}
}

func intakeDetection() forms.Detection {
	return forms.Detection{
		Kind:       forms.ItemForm,
		FormID:     uuid.NewString(),
		FormName:   "Intake",
		WantsStart: true,
	}
}

func TestFormStartAsksFirstQuestion(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Prompt: "How old are you?", Type: flow.FieldNumber, Required: true},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "I want to fill the intake form", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.sent) != 2 {
		t.Fatalf("expected intro plus first question, got %v", h.sent)
	}
	if h.sent[1] != "How old are you?" {
		t.Errorf("expected first question, got %q", h.sent[1])
	}

	sc := h.sessions.Load(context.Background(), "client-1")
	if !sc.ActiveFlow.Active() {
		t.Error("expected flow active in saved context")
	}
}

func TestFormNotFoundApologizes(t *testing.T) {
	repo := &stubForms{getErr: forms.ErrFormNotFound}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0] != "Sorry, I couldn't find the 'Intake' form right now." {
		t.Errorf("unexpected replies: %v", h.sent)
	}
	sc := h.sessions.Load(context.Background(), "client-1")
	if sc.ActiveFlow != nil {
		t.Error("expected no flow started")
	}
}

func TestFullFlowWithRetriesAndCompletion(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Prompt: "How old are you?", Type: flow.FieldNumber, Required: true},
		{ID: "q2", Label: "Member", Prompt: "Are you a member?", Type: flow.FieldSingleChoice, Required: true, Choices: []string{"Yes", "No"}},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.sent = nil

	// Invalid, valid, invalid, valid: exactly four replies.
	for _, input := range []string{"abc", "12", "Maybe", "Yes"} {
		if err := h.engine.HandleMessage(ctx, "client-1", input, h.deliver); err != nil {
			t.Fatalf("answer %q failed: %v", input, err)
		}
	}
	if len(h.sent) != 4 {
		t.Fatalf("expected 4 outputs, got %d: %v", len(h.sent), h.sent)
	}
	if h.sent[3] != "Thank you for completing the 'Intake' form!" {
		t.Errorf("unexpected completion message: %q", h.sent[3])
	}

	if len(repo.submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(repo.submissions))
	}
	got := repo.submissions[0]
	if len(got) != 2 || got[0].QuestionID != "q1" || got[0].Answer != "12" ||
		got[1].QuestionID != "q2" || got[1].Answer != "Yes" {
		t.Errorf("unexpected submission: %+v", got)
	}

	sc := h.sessions.Load(ctx, "client-1")
	if sc.ActiveFlow != nil {
		t.Error("expected flow cleared after completion")
	}
	if !sc.LeadCaptured {
		t.Error("expected lead captured on completion")
	}
}

func TestExitKeywordCancelsFlow(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Type: flow.FieldNumber, Required: true},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.sent = nil

	if err := h.engine.HandleMessage(ctx, "client-1", "nevermind", h.deliver); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if len(h.sent) != 1 || h.sent[0] != "No problem, I've cancelled the 'Intake' form. Is there anything else I can help you with?" {
		t.Errorf("unexpected cancel reply: %v", h.sent)
	}

	sc := h.sessions.Load(ctx, "client-1")
	if sc.ActiveFlow != nil {
		t.Error("expected flow cleared after cancel")
	}
}

func TestThreeInvalidAnswersAbandonFlow(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Prompt: "How old are you?", Type: flow.FieldNumber, Required: true},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for _, input := range []string{"x", "y", "z"} {
		if err := h.engine.HandleMessage(ctx, "client-1", input, h.deliver); err != nil {
			t.Fatalf("answer %q failed: %v", input, err)
		}
	}

	sc := h.sessions.Load(ctx, "client-1")
	if sc.ActiveFlow != nil {
		t.Error("expected flow cleared after abandonment")
	}
	if len(repo.submissions) != 0 {
		t.Error("abandoned flow must not be submitted")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewBotEnvelope("client-1", "hello", "form-1")
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	parsed, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Sender != SenderBot || parsed.Message != "hello" || parsed.Form == nil || *parsed.Form != "form-1" {
		t.Errorf("envelope fields lost: %+v", parsed)
	}
}

func TestParseEnvelopeRequiresClientID(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"message": "hi"}`)); err == nil {
		t.Fatal("expected error for missing client_id")
	}
}

func TestExitKeywordInsideSentenceCancelsFlow(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Type: flow.FieldNumber, Required: true},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.engine.HandleMessage(ctx, "client-1", "actually, cancel that.", h.deliver); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	sc := h.sessions.Load(ctx, "client-1")
	if sc.ActiveFlow != nil {
		t.Error("expected flow cancelled by keyword inside a sentence")
	}
}

func TestInvalidAttemptLimitConfigurable(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Prompt: "How old are you?", Type: flow.FieldNumber, Required: true},
	}}
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: intakeDetection()},
		repo,
		nil,
		func(o *Options) { o.MaxInvalidAttempts = 5 },
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for i, input := range []string{"a", "b", "c", "d"} {
		if err := h.engine.HandleMessage(ctx, "client-1", input, h.deliver); err != nil {
			t.Fatalf("answer %d failed: %v", i+1, err)
		}
		if sc := h.sessions.Load(ctx, "client-1"); !sc.ActiveFlow.Active() {
			t.Fatalf("flow abandoned after %d invalid answers despite limit of 5", i+1)
		}
	}
	if err := h.engine.HandleMessage(ctx, "client-1", "e", h.deliver); err != nil {
		t.Fatalf("fifth answer failed: %v", err)
	}
	if sc := h.sessions.Load(ctx, "client-1"); sc.ActiveFlow != nil {
		t.Error("expected flow abandoned on the fifth invalid answer")
	}
}

func TestRepliesDeliveredAsStampedEnvelopes(t *testing.T) {
	repo := &stubForms{questions: []flow.Question{
		{ID: "q1", Label: "Age", Prompt: "How old are you?", Type: flow.FieldNumber, Required: true},
	}}
	det := intakeDetection()
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: intent.IntentInvalid}},
		&stubDetector{det: det},
		repo,
		nil,
	)
	ctx := context.Background()

	if err := h.engine.HandleMessage(ctx, "client-1", "start the intake form please", h.deliver); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.engine.HandleMessage(ctx, "client-1", "42", h.deliver); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if len(h.envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(h.envelopes))
	}

	for i, env := range h.envelopes[:2] {
		if env.Type != TypeEngagement {
			t.Errorf("envelope %d: expected engagement, got %s", i, env.Type)
		}
		if env.Form == nil || *env.Form != det.FormID {
			t.Errorf("envelope %d: expected form id %s, got %v", i, det.FormID, env.Form)
		}
	}

	last := h.envelopes[2]
	if last.Type != TypeOffboarding {
		t.Errorf("expected completion stamped offboarding, got %s", last.Type)
	}
	if last.Form == nil || *last.Form != det.FormID {
		t.Errorf("expected form id on completion envelope, got %v", last.Form)
	}
	if last.Sender != SenderBot || last.ClientID != "client-1" || last.Timestamp == "" {
		t.Errorf("envelope missing sender, client, or timestamp: %+v", last)
	}
}

func TestGoodbyeReplyIsOffboarding(t *testing.T) {
	h := newHarness(t,
		&stubClassifier{pred: intent.Prediction{Intent: "goodbye", Confidence: 0.9}},
		&stubDetector{},
		&stubForms{},
		nil,
	)

	if err := h.engine.HandleMessage(context.Background(), "client-1", "bye now", h.deliver); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(h.envelopes) != 1 || h.envelopes[0].Type != TypeOffboarding {
		t.Errorf("expected a single offboarding envelope, got %+v", h.envelopes)
	}
}
