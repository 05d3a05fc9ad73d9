package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/executor"
	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/server"
	"github.com/roach88/cascade/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cascade HTTP server",
		Long: `Start the HTTP server exposing document persistence, execution
runs, and the audit log. The database is created on first start.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return runServe(cmd.Context(), cfg, rootOpts.Verbose)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, verbose bool) error {
	logger := slog.Default()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	reg := engine.NewRegistry()
	execCfg := executor.Config{}
	if cfg.OpenAI.Enabled {
		agent, err := executor.NewOpenAIClient(cfg.OpenAI.Model, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "configure agent executor", err)
		}
		execCfg.Agent = agent
	}
	executor.RegisterBuiltins(reg, execCfg)

	sched := engine.NewScheduler(st, reg,
		engine.WithNodeTimeout(cfg.NodeTimeout.Std()),
		engine.WithLogger(logger))
	ctrl := persist.NewController(st,
		persist.WithPolicy(cfg.Policy),
		persist.WithLogger(logger))

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.NewHandlers(st, ctrl, sched, logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown", err)
	}
	return nil
}
