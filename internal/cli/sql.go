package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relstore/internal/backing"
)

// SQLResult holds the rendered statements for one mapping.
type SQLResult struct {
	Field      string                   `json:"field"`
	Kind       string                   `json:"kind"`
	Statements []backing.NamedStatement `json:"statements"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	var fieldFilter string

	cmd := &cobra.Command{
		Use:   "sql <mapping-file>",
		Short: "Show the SQL a mapping generates",
		Long: `Render the statically-derivable statements for every mapping in a
mapping YAML file: size, clear, add, put, remove and friends, with
placeholder parameters. No database is touched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(rootOpts, args[0], fieldFilter, cmd)
		},
	}
	cmd.Flags().StringVar(&fieldFilter, "field", "", "render only the named mapping field")
	return cmd
}

func runSQL(opts *RootOptions, path, fieldFilter string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	file, loadErrors := LoadMappings(path)
	if file == nil {
		msg := fmt.Sprintf("cannot load %s", path)
		if len(loadErrors) > 0 {
			msg = loadErrors[0].Error()
		}
		if err := formatter.Error(ErrCodeParse, msg, nil); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, msg)
	}

	var results []SQLResult
	for i := range file.Mappings {
		cfg := &file.Mappings[i]
		if fieldFilter != "" && cfg.Field != fieldFilter {
			continue
		}
		m, err := cfg.Build(nil)
		if err != nil {
			return WrapExitError(ExitFailure, "invalid mapping", err)
		}
		stmts, err := backing.PreviewStatements(m)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("mapping %q", cfg.Field), err)
		}
		results = append(results, SQLResult{
			Field:      cfg.Field,
			Kind:       m.Kind.String(),
			Statements: stmts,
		})
	}
	if fieldFilter != "" && len(results) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no mapping for field %q in %s", fieldFilter, path))
	}

	if opts.Format == "json" {
		return formatter.Success(results)
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", r.Field, r.Kind)
		for _, st := range r.Statements {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", st.Name, st.SQL)
		}
	}
	return nil
}
