package forms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/flow"
)

// PgxPool is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads form definitions and writes submissions.
type Repository struct {
	pool PgxPool
}

func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		return nil
	}
	return &Repository{pool: pool}
}

// ListForms returns the latest version of every form.
func (r *Repository) ListForms(ctx context.Context) ([]Form, error) {
	query := `
		SELECT DISTINCT ON (name) id, name, description, version, created_at
		FROM forms
		ORDER BY name, version DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("forms: list forms: %w", err)
	}
	defer rows.Close()

	var out []Form
	for rows.Next() {
		var f Form
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Version, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("forms: scan form: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forms: list forms rows: %w", err)
	}
	return out, nil
}

// GetForm resolves one form by id.
func (r *Repository) GetForm(ctx context.Context, id uuid.UUID) (Form, error) {
	var f Form
	query := `
		SELECT id, name, description, version, created_at
		FROM forms
		WHERE id = $1
	`
	if err := r.pool.QueryRow(ctx, query, id).Scan(&f.ID, &f.Name, &f.Description, &f.Version, &f.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Form{}, ErrFormNotFound
		}
		return Form{}, fmt.Errorf("forms: get form: %w", err)
	}
	return f, nil
}

// GetQuestionsOrdered returns the form's questions flattened into ask
// order: sections by their order, then questions by theirs.
func (r *Repository) GetQuestionsOrdered(ctx context.Context, formID uuid.UUID) ([]flow.Question, error) {
	query := `
		SELECT q.id, q.label, q.prompt, q.field_type, q.required, q.choices
		FROM questions q
		JOIN sections s ON s.id = q.section_id
		WHERE s.form_id = $1
		ORDER BY s.position, q.position
	`
	rows, err := r.pool.Query(ctx, query, formID)
	if err != nil {
		return nil, fmt.Errorf("forms: get questions: %w", err)
	}
	defer rows.Close()

	var out []flow.Question
	for rows.Next() {
		var (
			id      uuid.UUID
			q       flow.Question
			choices []byte
		)
		if err := rows.Scan(&id, &q.Label, &q.Prompt, &q.Type, &q.Required, &choices); err != nil {
			return nil, fmt.Errorf("forms: scan question: %w", err)
		}
		q.ID = id.String()
		if len(choices) > 0 {
			if err := json.Unmarshal(choices, &q.Choices); err != nil {
				return nil, fmt.Errorf("forms: decode choices for question %s: %w", id, err)
			}
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("forms: get questions rows: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrFormNotFound
	}
	return out, nil
}

// ListDirectoryEntries builds the matching surface for every latest
// form version.
func (r *Repository) ListDirectoryEntries(ctx context.Context) ([]DirectoryEntry, error) {
	formList, err := r.ListForms(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT s.title, q.label
		FROM sections s
		JOIN questions q ON q.section_id = s.id
		WHERE s.form_id = $1
		ORDER BY s.position, q.position
	`
	entries := make([]DirectoryEntry, 0, len(formList))
	for _, f := range formList {
		entry := DirectoryEntry{FormID: f.ID, FormName: f.Name}
		rows, err := r.pool.Query(ctx, query, f.ID)
		if err != nil {
			return nil, fmt.Errorf("forms: directory entry for %s: %w", f.Name, err)
		}
		seen := map[string]bool{}
		for rows.Next() {
			var section, label string
			if err := rows.Scan(&section, &label); err != nil {
				rows.Close()
				return nil, fmt.Errorf("forms: scan directory row: %w", err)
			}
			if !seen[section] {
				seen[section] = true
				entry.Sections = append(entry.Sections, section)
			}
			entry.Questions = append(entry.Questions, label)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("forms: directory rows: %w", err)
		}
		rows.Close()
		entries = append(entries, entry)
	}
	return entries, nil
}

// SaveSubmission records a completed set of answers. The records are
// stored as a JSON array so the order the client answered in survives.
func (r *Repository) SaveSubmission(ctx context.Context, formID uuid.UUID, clientID string, answers []flow.AnswerRecord) (uuid.UUID, error) {
	data, err := json.Marshal(answers)
	if err != nil {
		return uuid.Nil, fmt.Errorf("forms: marshal answers: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO submissions (id, form_id, client_id, answers)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, id, formID, clientID, data); err != nil {
		return uuid.Nil, fmt.Errorf("forms: save submission: %w", err)
	}
	return id, nil
}
