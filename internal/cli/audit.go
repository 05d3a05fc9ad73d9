package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/store"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var suspiciousOnly bool

	cmd := &cobra.Command{
		Use:   "audit <document-id>",
		Short: "Show the save history of a document",
		Long: `Print the append-only audit log for a document: every save
attempt, its outcome, and whether the anomaly check flagged it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd, args[0], suspiciousOnly)
		},
	}

	cmd.Flags().BoolVar(&suspiciousOnly, "suspicious", false, "show only flagged attempts")
	return cmd
}

func runAudit(rootOpts *RootOptions, cmd *cobra.Command, documentID string, suspiciousOnly bool) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	entries, err := st.ReadAudit(cmd.Context(), documentID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read audit log", err)
	}

	if suspiciousOnly {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Suspicious {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if rootOpts.Format == "json" {
		return formatter.Success(entries)
	}

	for _, e := range entries {
		flag := " "
		if e.Suspicious {
			flag = "!"
		}
		fmt.Fprintf(formatter.Writer, "%s #%d %-22s %s  nodes %d -> %d  overlap %.2f  source=%s\n",
			flag, e.Seq, e.Outcome, e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.OldNodeCount, e.NewNodeCount, e.OverlapRatio, e.Source)
	}
	fmt.Fprintf(formatter.Writer, "%d entries\n", len(entries))
	return nil
}
