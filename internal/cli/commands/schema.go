package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/deltapatch/internal/cli/ui"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand(global *globalOptions) *cobra.Command {
	var schemaFile string

	cmd := &cobra.Command{
		Use:   "schema [model]",
		Short: "List registered models or describe one",
		Long: `Load the schema file and list its models with their tables and keys.
Given a model name, show the model's fields, key sets and child collections.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, schemaFile)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				table := ui.NewTable(w, global.noColor, "MODEL", "TABLE", "KEY", "FIELDS")
				for _, m := range reg.Models() {
					table.AddRow(m.Name, m.Table, describeKey(m), fmt.Sprint(len(m.Fields)))
				}
				table.Render()
				return nil
			}

			m, ok := reg.Get(args[0])
			if !ok {
				ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
					Context:      "unknown model",
					Problem:      args[0],
					Suggestions:  ui.FindSimilar(args[0], reg.List()),
					HelpCommands: []string{"See all models: deltapatch schema"},
					NoColor:      global.noColor,
				})
				return &reportedError{err: fmt.Errorf("%w: %s", schema.ErrUnknownModel, args[0])}
			}
			describeModel(cmd, m, global.noColor)
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "model definitions file (overrides schema.file)")

	return cmd
}

func describeModel(cmd *cobra.Command, m *schema.Model, noColor bool) {
	w := cmd.OutOrStdout()

	ui.Header(w, m.Name, noColor)
	kv := ui.NewKeyValueTable(w, noColor)
	kv.AddRow("Table", m.Table)
	for _, ks := range m.KeySets {
		label := "Unique " + ks.Name
		if ks.Primary {
			label = "Primary key"
		}
		kv.AddRow(label, strings.Join(ks.Fields, ", "))
	}
	kv.Render()
	fmt.Fprintln(w)

	table := ui.NewTable(w, noColor, "FIELD", "DELTA", "COLUMN", "TYPE", "NULL", "RULES")
	for _, f := range m.Scalars() {
		typ := f.Type.String()
		if f.Type == schema.TypeEnum {
			typ = "enum(" + strings.Join(f.EnumValues, "|") + ")"
		}
		null := ""
		if f.Nullable {
			null = "yes"
		}
		table.AddRow(f.Name, f.DeltaName, f.Column, typ, null, f.Rules)
	}
	table.Render()

	if children := m.Collections(); len(children) > 0 {
		fmt.Fprintln(w)
		table := ui.NewTable(w, noColor, "COLLECTION", "MODEL", "INVERSE")
		for _, f := range children {
			table.AddRow(f.Name, f.Elem, f.Inverse)
		}
		table.Render()
	}
}

func describeKey(m *schema.Model) string {
	if len(m.KeySets) == 0 {
		return "-"
	}
	ks := m.KeySets[0]
	if ks.Primary {
		return strings.Join(ks.Fields, ", ")
	}
	return ks.Name + "(" + strings.Join(ks.Fields, ", ") + ")"
}
