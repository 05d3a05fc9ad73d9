package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/executor"
	"github.com/roach88/cascade/internal/pipeline"
	"github.com/roach88/cascade/internal/store"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subjectID  string
		mode       string
		nodeID     string
		inputsPath string
	)

	cmd := &cobra.Command{
		Use:   "run <document-id>",
		Short: "Execute a pipeline document against the local database",
		Long: `Run a document for one subject. Cascade mode consults the content
hash cache per node; force mode re-executes everything. With --node,
only that node runs and its downstream dependents are reported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, cmd, args[0], subjectID, mode, nodeID, inputsPath)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "subject id to run for (required)")
	cmd.Flags().StringVar(&mode, "mode", "cascade", "run mode (cascade|force)")
	cmd.Flags().StringVar(&nodeID, "node", "", "force a single node and report its dependents")
	cmd.Flags().StringVar(&inputsPath, "inputs", "", "YAML/JSON file of ingest inputs (subject -> source -> value)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runRun(rootOpts *RootOptions, cmd *cobra.Command, documentID, subjectID, mode, nodeID, inputsPath string) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	if !engine.ValidModes[engine.Mode(mode)] {
		_ = formatter.Error("E_MODE", fmt.Sprintf("invalid mode %q", mode), nil)
		return NewExitError(ExitCommandError, "invalid mode")
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

	doc, err := st.GetDocument(cmd.Context(), documentID)
	if err != nil {
		_ = formatter.Error("E_NOTFOUND", fmt.Sprintf("document %q: %v", documentID, err), nil)
		return NewExitError(ExitCommandError, "document not found")
	}

	execCfg, err := buildRunExecutorConfig(cfg, doc, inputsPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "configure executors", err)
	}
	reg := engine.NewRegistry()
	executor.RegisterBuiltins(reg, execCfg)
	sched := engine.NewScheduler(st, reg, engine.WithNodeTimeout(cfg.NodeTimeout.Std()))

	var result *engine.RunResult
	if nodeID != "" {
		result, err = sched.RunNode(cmd.Context(), doc, subjectID, nodeID)
	} else {
		result, err = sched.Run(cmd.Context(), doc, subjectID, engine.Mode(mode))
	}
	if err != nil {
		_ = formatter.Error("E_RUN", err.Error(), nil)
		return NewExitError(ExitFailure, "run failed")
	}

	if rootOpts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printRunText(formatter, result)
	}

	for _, nr := range result.Results {
		if nr.Status == engine.StatusFailed || nr.Status == engine.StatusOrderingFailed {
			return NewExitError(ExitFailure, "one or more nodes failed")
		}
	}
	return nil
}

// buildRunExecutorConfig assembles the same executor set the server
// runs with: document variables, optional file-backed ingest inputs,
// and the agent executor when the config enables it.
func buildRunExecutorConfig(cfg config.Config, doc *pipeline.Document, inputsPath string) (executor.Config, error) {
	execCfg := executor.Config{
		Variables: variableMap(doc.Variables),
	}
	if inputsPath != "" {
		inputs, err := loadInputsFile(inputsPath)
		if err != nil {
			return executor.Config{}, err
		}
		execCfg.Inputs = inputs
	}
	if cfg.OpenAI.Enabled {
		agent, err := executor.NewOpenAIClient(cfg.OpenAI.Model, slog.Default())
		if err != nil {
			return executor.Config{}, fmt.Errorf("configure agent executor: %w", err)
		}
		execCfg.Agent = agent
	}
	return execCfg, nil
}

// loadInputsFile reads ingest inputs keyed by subject id, then source
// identifier. YAML is a superset of JSON so both extensions parse.
func loadInputsFile(path string) (executor.StaticInputs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs file: %w", err)
	}
	var inputs executor.StaticInputs
	if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse inputs file %s: %w", path, err)
	}
	return inputs, nil
}

func variableMap(vars []pipeline.Variable) map[string]any {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]any, len(vars))
	for _, v := range vars {
		out[v.Name] = v.Value
	}
	return out
}

func printRunText(f *OutputFormatter, result *engine.RunResult) {
	fmt.Fprintf(f.Writer, "document %s, subject %s, mode %s\n",
		result.DocumentID, result.SubjectID, result.Mode)
	for _, nr := range result.Results {
		line := fmt.Sprintf("  %-20s %s", nr.NodeID, nr.Status)
		if nr.Reason != "" {
			line += fmt.Sprintf(" (%s)", nr.Reason)
		}
		if nr.Error != "" {
			line += ": " + nr.Error
		}
		fmt.Fprintln(f.Writer, line)
	}
	if len(result.Downstream) > 0 {
		fmt.Fprintf(f.Writer, "downstream: %s\n", strings.Join(result.Downstream, ", "))
	}
	fmt.Fprintf(f.Writer, "executed %d of %d nodes\n", len(result.Executed()), len(result.Results))
}
