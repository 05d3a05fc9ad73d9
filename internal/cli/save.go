package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/client"
	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/save"
)

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		serverURL       string
		expectedVersion int64
		create          bool
	)

	cmd := &cobra.Command{
		Use:   "save <document-file>",
		Short: "Validate a document file and save it through the server",
		Long: `Validate a JSON or YAML document file against the schema and send
it to a running cascade server. With --create the document is created
fresh; otherwise --expected-version must match the stored version.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(rootOpts, cmd, args[0], serverURL, expectedVersion, create)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "cascade server URL")
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "version the stored document must have")
	cmd.Flags().BoolVar(&create, "create", false, "create the document instead of overwriting")
	return cmd
}

func runSave(rootOpts *RootOptions, cmd *cobra.Command, path, serverURL string, expectedVersion int64, create bool) error {
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
		_ = formatter.Error("E_SCHEMA", fmt.Sprintf("%s: %d schema violation(s)", path, len(verrs)), verrs)
		return NewExitError(ExitFailure, "document is invalid")
	}
	formatter.VerboseLog("document %s validates, %d node(s)", path, len(file.Nodes))

	documentID := file.ID
	if documentID == "" {
		documentID = uuid.NewString()
	}
	c := client.New(serverURL)

	if create {
		doc, err := c.Create(cmd.Context(), &persist.SaveRequest{
			DocumentID: documentID,
			Name:       file.Name,
			Nodes:      file.Nodes,
			Connectors: file.Connectors,
			Variables:  file.Variables,
			Settings:   file.Settings,
			Source:     "import",
		})
		if err != nil {
			if rej, ok := persist.AsRejection(err); ok {
				_ = formatter.Error(string(rej.Code), rej.Message, rej)
				return NewExitError(ExitFailure, "save rejected")
			}
			return WrapExitError(ExitCommandError, "save", err)
		}
		if rootOpts.Format == "json" {
			return formatter.Success(doc)
		}
		fmt.Fprintf(formatter.Writer, "created document %s at version %d\n", documentID, doc.Version)
		return nil
	}

	// Overwrites go through the orchestrator so imports get the same
	// backup-before-send and conflict-retry behavior as editor saves.
	cfg, err := config.Load(rootOpts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	snap := save.Snapshot{
		Name:       file.Name,
		Nodes:      file.Nodes,
		Connectors: file.Connectors,
		Variables:  file.Variables,
		Settings:   file.Settings,
	}
	orch := save.New(documentID, expectedVersion, c,
		save.SourceFunc(func() save.Snapshot { return snap }),
		save.NewBackup(cfg.BackupDir),
		save.WithSource("import"))

	res, err := orch.Save(cmd.Context())
	if err != nil {
		if rej, ok := persist.AsRejection(err); ok {
			_ = formatter.Error(string(rej.Code), rej.Message, rej)
			return NewExitError(ExitFailure, "save rejected")
		}
		return WrapExitError(ExitCommandError, "save", err)
	}

	if rootOpts.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "saved %s as document %s at version %d\n", path, documentID, res.Version)
	if res.Retried {
		fmt.Fprintln(formatter.Writer, "note: retried once after a version conflict")
	}
	return nil
}
