package ui

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/deltapatch/internal/orm/validation"
	"github.com/conduit-lang/deltapatch/internal/patch"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
)

// ErrorOptions configures message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Details      []string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError creates a standardized error message with suggestions and help commands
//
// Example output:
//
//	✗ UNKNOWN MODEL: Blgo
//	   Did you mean: Blog?
//
//	   → See all models: deltapatch schema
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	headerAttrs := []color.Attribute{color.FgRed, color.Bold}
	bodyAttrs := []color.Attribute{color.FgRed}
	symbol := "✗"
	if opts.Level == ErrorLevelWarning {
		headerAttrs = []color.Attribute{color.FgYellow, color.Bold}
		bodyAttrs = []color.Attribute{color.FgYellow}
		symbol = "!"
	}
	header := newColor(opts.NoColor, headerAttrs...)
	body := newColor(opts.NoColor, bodyAttrs...)

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	for _, detail := range opts.Details {
		body.Fprintf(&b, "   %s\n", detail)
	}

	if len(opts.Suggestions) > 0 {
		newColor(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := newColor(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	return newColor(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, NoColor: noColor})
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context: "configuration error",
		Problem: message,
		HelpCommands: []string{
			"View config: cat deltapatch.yaml",
			"Get help: deltapatch --help",
		},
		NoColor: noColor,
	})
}

// PatchErrorOptions describes a failed patch. models lists the registered
// model names, used to suggest a match for an unknown model.
func PatchErrorOptions(err error, model string, models []string, noColor bool) ErrorOptions {
	opts := ErrorOptions{Problem: err.Error(), NoColor: noColor}

	var verrs *validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		opts.Context = "validation failed"
		opts.Problem = verrs.Model
		fields := make([]string, 0, len(verrs.Fields))
		for name := range verrs.Fields {
			fields = append(fields, name)
		}
		sort.Strings(fields)
		for _, name := range fields {
			opts.Details = append(opts.Details, fmt.Sprintf("%s: %s", name, strings.Join(verrs.Fields[name], ", ")))
		}
	case errors.Is(err, patch.ErrUnknownType):
		opts.Context = "unknown model"
		if model != "" {
			opts.Problem = model
			opts.Suggestions = FindSimilar(model, models)
		}
		opts.HelpCommands = []string{"See all models: deltapatch schema"}
	case errors.Is(err, patch.ErrNoKeyProperty):
		opts.Context = "no key property"
		opts.HelpCommands = []string{"Declare a key: mark a field with key: true in the schema file"}
	case errors.Is(err, patch.ErrInvalidInput):
		opts.Context = "invalid input"
	case errors.Is(err, patch.ErrStore):
		opts.Context = "store failure"
		opts.Details = []string{"The transaction was rolled back; nothing was written."}
	case errors.Is(err, patch.ErrCancelled):
		opts.Context = "cancelled"
		opts.Details = []string{"The transaction was rolled back; nothing was written."}
	}
	return opts
}
