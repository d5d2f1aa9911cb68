package validation

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidationErrors_Add(t *testing.T) {
	errors := NewValidationErrors("Post")

	errors.Add("Title", "must be at least 5 characters")
	errors.Add("Email", "must be a valid email address")
	errors.Add("Title", "is required")

	if len(errors.Fields) != 2 {
		t.Errorf("expected 2 fields with errors, got %d", len(errors.Fields))
	}

	if len(errors.Fields["Title"]) != 2 {
		t.Errorf("expected 2 errors for Title, got %d", len(errors.Fields["Title"]))
	}

	if errors.Count() != 3 {
		t.Errorf("expected count 3, got %d", errors.Count())
	}
}

func TestValidationErrors_HasErrors(t *testing.T) {
	errors := NewValidationErrors("")

	if errors.HasErrors() {
		t.Error("expected HasErrors to return false for new ValidationErrors")
	}

	errors.Add("field", "error message")

	if !errors.HasErrors() {
		t.Error("expected HasErrors to return true after adding error")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		fields   map[string][]string
		expected string
	}{
		{
			name:     "no errors",
			fields:   map[string][]string{},
			expected: "validation failed",
		},
		{
			name:     "single error",
			model:    "Blog",
			fields:   map[string][]string{"Url": {"is required"}},
			expected: "validation failed for Blog: Url: is required",
		},
		{
			name:  "multiple errors sorted by field",
			model: "Blog",
			fields: map[string][]string{
				"Url":  {"is required"},
				"Name": {"must be at most 10 characters"},
			},
			expected: "validation failed for Blog:\n  - Name: must be at most 10 characters\n  - Url: is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := NewValidationErrors(tt.model)
			for field, messages := range tt.fields {
				for _, msg := range messages {
					errors.Add(field, msg)
				}
			}
			if got := errors.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestValidationErrors_MarshalJSON(t *testing.T) {
	errors := NewValidationErrors("Blog")
	errors.Add("Url", "is required")

	data, err := json.Marshal(errors)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"error":"validation_failed"`, `"model":"Blog"`, `"Url":["is required"]`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}
