package flow

import (
	"strconv"
	"strings"
	"time"
)

// validateAnswer checks input against the question's field type. It
// returns the normalized value to store, or a non-empty retry message
// when the input does not satisfy the field.
func validateAnswer(q Question, input string) (normalized string, retry string) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		if q.Required {
			return "", "This field is required."
		}
		return "", ""
	}

	switch q.Type {
	case FieldNumber:
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return "", "Please enter a valid number."
		}
		return trimmed, ""

	case FieldBoolean:
		switch strings.ToLower(trimmed) {
		case "true", "yes", "y", "1":
			return "true", ""
		case "false", "no", "n", "0":
			return "false", ""
		}
		return "", "Please answer with 'true' or 'false' (or 'yes'/'no')."

	case FieldSingleChoice:
		if choice, ok := matchChoice(q.Choices, trimmed); ok {
			return choice, ""
		}
		return "", "Please choose one of the following options: " + strings.Join(q.Choices, ", ") + "."

	case FieldMultipleChoice:
		parts := strings.Split(trimmed, ",")
		selected := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			choice, ok := matchChoice(q.Choices, part)
			if !ok {
				return "", "Please choose from the following options (comma-separated): " + strings.Join(q.Choices, ", ") + "."
			}
			selected = append(selected, choice)
		}
		if len(selected) == 0 {
			return "", "Please choose from the following options (comma-separated): " + strings.Join(q.Choices, ", ") + "."
		}
		return strings.Join(selected, ", "), ""

	case FieldDateTime:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return trimmed, ""
			}
		}
		return "", "Please enter a valid date/time (e.g., 2024-01-15 or 2024-01-15T10:30:00)."

	default:
		return trimmed, ""
	}
}

// matchChoice resolves input against the allowed options without
// regard to case, returning the canonical spelling.
func matchChoice(choices []string, input string) (string, bool) {
	for _, choice := range choices {
		if strings.EqualFold(choice, input) {
			return choice, true
		}
	}
	return "", false
}
