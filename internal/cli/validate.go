package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results for one document file.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document-file>",
		Short: "Validate a document file without saving it",
		Long: `Check a JSON or YAML document file against the document schema.
Reports every violation, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runValidate(rootOpts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	file, verrs, err := LoadDocumentFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load document", err)
	}

	if len(verrs) > 0 {
		if rootOpts.Format == "json" {
			_ = formatter.Success(ValidationResult{Valid: false, Errors: verrs})
		} else {
			fmt.Fprintf(formatter.Writer, "%s: invalid\n", path)
			for _, v := range verrs {
				fmt.Fprintf(formatter.Writer, "  %s\n", v.Error())
			}
		}
		return NewExitError(ExitFailure, "document is invalid")
	}

	if rootOpts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintf(formatter.Writer, "%s: valid (%d nodes)\n", path, len(file.Nodes))
	return nil
}
