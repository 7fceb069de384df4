package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relstore/internal/schema"
)

// ValidationIssue is one reported mapping problem.
type ValidationIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationResult holds validation results for one mapping file.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Mappings int               `json:"mappings"`
	Issues   []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <mapping-file>",
		Short: "Validate container mappings without touching a database",
		Long: `Validate a mapping YAML file.

Checks the file shape against the mapping schema, then runs structural
validation on every mapping: column widths, kind-specific requirements,
foreign-key strategy constraints.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	file, loadErrors := LoadMappings(path)
	if file == nil {
		issues := make([]ValidationIssue, 0, len(loadErrors))
		code := ErrCodeParse
		for _, err := range loadErrors {
			var loadErr *LoadError
			if errors.As(err, &loadErr) {
				issues = append(issues, ValidationIssue{Message: loadErr.Message, Code: loadErr.Code})
				code = loadErr.Code
			} else {
				issues = append(issues, ValidationIssue{Message: err.Error()})
			}
		}
		if err := formatter.Error(code, fmt.Sprintf("cannot load %s", path), issues); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("cannot load %s", path))
	}

	formatter.VerboseLog("loaded %d mapping(s) from %s", len(file.Mappings), path)

	var issues []ValidationIssue
	for i := range file.Mappings {
		m, err := file.Mappings[i].Build(nil)
		if err != nil {
			issues = append(issues, ValidationIssue{
				Field:   file.Mappings[i].Field,
				Message: err.Error(),
				Code:    ErrCodeValidation,
			})
			continue
		}
		for _, verr := range m.Validate() {
			issue := ValidationIssue{Message: verr.Error(), Code: ErrCodeValidation}
			var ve *schema.ValidationError
			if errors.As(verr, &ve) {
				issue.Field = ve.Field
				issue.Message = ve.Message
			}
			issues = append(issues, issue)
		}
	}

	result := ValidationResult{
		Valid:    len(issues) == 0,
		Mappings: len(file.Mappings),
		Issues:   issues,
	}

	if !result.Valid {
		if opts.Format == "json" {
			if err := formatter.Error(ErrCodeValidation, "validation failed", result); err != nil {
				return err
			}
		} else {
			for _, issue := range issues {
				if issue.Field != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "mapping %q: %s\n", issue.Field, issue.Message)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), issue.Message)
				}
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation issue(s)", len(issues)))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d mapping(s) valid\n", len(file.Mappings))
	return nil
}
