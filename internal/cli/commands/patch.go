package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/deltapatch/internal/cli/ui"
	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/patch"
)

type patchOptions struct {
	schemaFile string
	format     string
	output     string
	typed      bool
}

// NewPatchCommand creates the patch command
func NewPatchCommand(global *globalOptions) *cobra.Command {
	opts := &patchOptions{}

	cmd := &cobra.Command{
		Use:   "patch <model> [file]",
		Short: "Apply a JSON or YAML delta document",
		Long: `Apply a delta document to the configured store in one transaction.

The document holds one object or an array of objects of the given model.
With --typed the model argument is omitted and the document is an array of
{"model": "...", "delta": {...}} entries of any registered models.
The document is read from stdin when the file is omitted or "-".`,
		Example: `  deltapatch patch Blog blog.json
  cat posts.yaml | deltapatch patch Post --format yaml
  deltapatch patch --typed batch.json -o json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.typed {
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(cmd, global, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.schemaFile, "schema", "", "model definitions file (overrides schema.file)")
	cmd.Flags().StringVar(&opts.format, "format", "auto", "input format: auto, json or yaml")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	cmd.Flags().BoolVar(&opts.typed, "typed", false, "read a list of model/delta envelopes")

	return cmd
}

func runPatch(cmd *cobra.Command, global *globalOptions, opts *patchOptions, args []string) error {
	if opts.output != "table" && opts.output != "json" {
		return fmt.Errorf("invalid output format %q", opts.output)
	}

	var model, file string
	if opts.typed {
		if len(args) > 0 {
			file = args[0]
		}
	} else {
		model = args[0]
		if len(args) > 1 {
			file = args[1]
		}
	}

	items, isArray, err := readDocument(cmd.InOrStdin(), file, opts.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(global, opts.schemaFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := applyDocument(ctx, a.engine, model, items, isArray, opts.typed)
	if err != nil {
		ui.WriteError(cmd.ErrOrStderr(), ui.PatchErrorOptions(err, model, a.registry.List(), global.noColor))
		return &reportedError{err: err}
	}

	if opts.output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderResult(cmd.OutOrStdout(), result, global.noColor)
	return nil
}

// readDocument decodes the delta document in file, or stdin for "" and "-"
func readDocument(stdin io.Reader, file, format string) ([]interface{}, bool, error) {
	r := stdin
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open document: %w", err)
		}
		defer f.Close()
		r = f
	}

	if format == "auto" {
		format = "json"
		switch strings.ToLower(filepath.Ext(file)) {
		case ".yaml", ".yml":
			format = "yaml"
		}
	}

	var (
		items   []interface{}
		isArray bool
		err     error
	)
	switch format {
	case "json":
		items, isArray, err = delta.DecodeJSON(r)
	case "yaml":
		items, isArray, err = delta.DecodeYAML(r)
	default:
		return nil, false, fmt.Errorf("invalid input format %q", format)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode document: %w", err)
	}
	return items, isArray, nil
}

// applyDocument patches the decoded items through the entry point matching
// their shape
func applyDocument(ctx context.Context, engine *patch.Engine, model string, items []interface{}, isArray, typed bool) (*patch.Result, error) {
	if typed {
		list, err := delta.ParseTypedList(items)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", patch.ErrInvalidInput, err)
		}
		return engine.PatchUntyped(ctx, list)
	}

	deltas := make([]*delta.Delta, 0, len(items))
	for i, item := range items {
		d, ok := item.(*delta.Delta)
		if !ok {
			return nil, fmt.Errorf("%w: item %d is not an object", patch.ErrInvalidInput, i)
		}
		deltas = append(deltas, d)
	}
	if !isArray {
		return engine.PatchOne(ctx, model, deltas[0])
	}
	return engine.PatchMany(ctx, model, deltas)
}

// renderResult prints one row per outcome followed by a summary
func renderResult(w io.Writer, result *patch.Result, noColor bool) {
	table := ui.NewTable(w, noColor, "MODEL", "KIND", "KEY", "CHANGED")
	for _, o := range result.Outcomes {
		table.AddRow(o.Model, o.Kind.String(), formatKey(o.Key()), strings.Join(o.Changed, ", "))
	}
	table.Render()
	fmt.Fprintln(w)

	for _, d := range result.Diagnostics {
		fmt.Fprint(w, ui.Warning(d.String(), noColor))
	}

	ui.WriteSuccess(w, fmt.Sprintf("%d rows written (%d created, %d updated, %d unchanged)",
		result.Rows,
		result.Outcomes.Count(patch.Created),
		result.Outcomes.Count(patch.Updated),
		result.Outcomes.Count(patch.Read),
	), noColor)
}

// formatKey renders key values as name=value pairs sorted by name
func formatKey(key schema.NamedKey) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := "null"
		if v := key[name]; v != nil {
			value = cast.ToString(v)
			if value == "" {
				value = fmt.Sprint(v)
			}
		}
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, ",")
}
