package forms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/parleyhq/parley/internal/flow"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestListFormsReturnsLatestVersions(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT DISTINCT ON \(name\)`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "version", "created_at"}).
			AddRow(id, "Intake", "New client intake", 2, now))

	forms, err := repo.ListForms(context.Background())
	if err != nil {
		t.Fatalf("list forms failed: %v", err)
	}
	if len(forms) != 1 || forms[0].Name != "Intake" || forms[0].Version != 2 {
		t.Errorf("unexpected forms: %+v", forms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetFormNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, name, description, version, created_at`).
		WithArgs(id).
		WillReturnError(errors.New("no rows in result set"))

	_, err := repo.GetForm(context.Background(), id)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetQuestionsOrdered(t *testing.T) {
	repo, mock := newMockRepo(t)
	formID := uuid.New()
	q1 := uuid.New()
	q2 := uuid.New()

	mock.ExpectQuery(`ORDER BY s.position, q.position`).
		WithArgs(formID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "label", "prompt", "field_type", "required", "choices"}).
			AddRow(q1, "Age", "How old are you?", "number", true, []byte(nil)).
			AddRow(q2, "Time of day", "", "single_choice", true, []byte(`["Morning","Evening"]`)))

	questions, err := repo.GetQuestionsOrdered(context.Background(), formID)
	if err != nil {
		t.Fatalf("get questions failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Type != flow.FieldNumber || questions[0].Text() != "How old are you?" {
		t.Errorf("unexpected first question: %+v", questions[0])
	}
	if questions[1].Text() != "Time of day" {
		t.Errorf("expected prompt fallback to label, got %q", questions[1].Text())
	}
	if len(questions[1].Choices) != 2 {
		t.Errorf("expected choices decoded, got %v", questions[1].Choices)
	}
}

func TestGetQuestionsOrderedEmptyIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	formID := uuid.New()

	mock.ExpectQuery(`ORDER BY s.position, q.position`).
		WithArgs(formID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "label", "prompt", "field_type", "required", "choices"}))

	_, err := repo.GetQuestionsOrdered(context.Background(), formID)
	if !errors.Is(err, ErrFormNotFound) {
		t.Errorf("expected ErrFormNotFound, got %v", err)
	}
}

func TestSaveSubmission(t *testing.T) {
	repo, mock := newMockRepo(t)
	formID := uuid.New()

	mock.ExpectExec(`INSERT INTO submissions`).
		WithArgs(pgxmock.AnyArg(), formID, "client-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := repo.SaveSubmission(context.Background(), formID, "client-1", []flow.AnswerRecord{
		{QuestionID: "q1", Answer: "42", FormID: formID.String()},
	})
	if err != nil {
		t.Fatalf("save submission failed: %v", err)
	}
	if id == uuid.Nil {
		t.Error("expected a submission id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
