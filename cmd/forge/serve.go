package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/agent/providers"
	"github.com/haasonsaas/forge/internal/bridge"
	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/facade"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/remote"
	"github.com/haasonsaas/forge/internal/session"
	"github.com/haasonsaas/forge/internal/tools/ask"
	"github.com/haasonsaas/forge/internal/tools/files"
	"github.com/haasonsaas/forge/internal/tools/scout"
	"github.com/haasonsaas/forge/internal/tools/shell"
	"github.com/haasonsaas/forge/internal/tools/todo"
	"github.com/haasonsaas/forge/internal/tools/webfetch"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		dir        string
		sshTarget  string
		sshKey     string
		host       string
		port       int
		stateDir   string
		model      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the backend server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Workspace.Dir = dir
			}
			if sshTarget != "" {
				cfg.Workspace.SSH = sshTarget
			}
			if sshKey != "" {
				cfg.Workspace.SSHKey = sshKey
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if stateDir != "" {
				cfg.StateDir = stateDir
			}
			if model != "" {
				cfg.Model.Model = model
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&dir, "dir", "", "Local workspace directory")
	cmd.Flags().StringVar(&sshTarget, "ssh", "", "SSH workspace: user@host[:port]:/dir")
	cmd.Flags().StringVar(&sshKey, "key", "", "SSH private key path")
	cmd.Flags().StringVar(&host, "host", "", "Listen address")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "State directory (default ~/.forge)")
	cmd.Flags().StringVar(&model, "model", "", "Model id")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).Slog()
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "forge",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopTracer(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	provider, err := providers.NewAnthropic(cfg.Model, cfg.APIKey(), metrics, logger)
	if err != nil {
		return err
	}

	sshRegistry := remote.NewRegistry(cfg.Workspace.SSHKey)
	defer sshRegistry.Close()

	newWorkspace := func(workdir string, isSSH bool) (*workspace.Workspace, error) {
		if isSSH {
			target, err := config.ParseSSHTarget(workdir)
			if err != nil {
				return nil, err
			}
			client, err := sshRegistry.Connect(target)
			if err != nil {
				return nil, err
			}
			return workspace.New(target.Dir, remote.NewFS(client), logger)
		}
		return workspace.New(workdir, workspace.LocalFS{}, logger)
	}

	newEngine := func(s *session.Session) (*turn.Engine, error) {
		ws := s.Workspace()

		var runner shell.Runner
		workdir := ws.Root()
		if s.IsSSH {
			target, err := config.ParseSSHTarget(s.WorkingDirectory)
			if err != nil {
				return nil, err
			}
			client, ok := sshRegistry.Get(target)
			if !ok {
				return nil, fmt.Errorf("ssh host %s is not connected", target.Host)
			}
			runner = shell.RemoteRunner{Client: client, Dir: target.Dir}
			workdir = target.Dir
		} else {
			runner = shell.LocalRunner{Dir: ws.Root()}
		}

		reg := agent.NewRegistry()
		for _, tool := range []agent.Tool{
			files.NewReadTool(ws),
			files.NewWriteTool(ws),
			files.NewEditTool(ws),
			files.NewListTool(ws),
			files.NewGlobTool(ws),
			files.NewSearchTool(ws),
			files.NewSymbolTool(ws),
			shell.NewBashTool(runner, shell.Config{
				DefaultTimeout: cfg.Limits.CommandTimeout,
				OutputWindow:   cfg.Limits.OutputWindow,
				DenyPatterns:   cfg.Limits.DenyPatterns,
			}),
			todo.NewReadTool(s.Todos()),
			todo.NewWriteTool(s.Todos()),
			ask.New(),
			scout.New(ws),
			webfetch.New(),
		} {
			reg.MustRegister(tool)
		}

		exec := agent.NewExecutor(reg, agent.ExecConfig{Tracer: tracer}, metrics, logger)
		return &turn.Engine{
			Provider:      provider,
			Registry:      reg,
			Executor:      exec,
			WS:            ws,
			Host:          s,
			Workdir:       workdir,
			ContextWindow: cfg.Model.ContextWindow,
			MaxIterations: cfg.Limits.MaxIterations,
			Metrics:       metrics,
			Tracer:        tracer,
			Logger:        logger,
		}, nil
	}

	manager := session.NewManager(cfg.StateDir, newWorkspace, newEngine, logger, metrics)
	defer manager.Close()

	projects, err := session.LoadProjects(cfg.StateDir)
	if err != nil {
		return err
	}

	terminal := func(workdir string, cols, rows int) (bridge.Terminal, error) {
		if target, err := config.ParseSSHTarget(workdir); err == nil {
			client, err := sshRegistry.Connect(target)
			if err != nil {
				return nil, err
			}
			return client.Shell(target.Dir, cols, rows)
		}
		return bridge.NewLocalTerminal(workdir, cols, rows)
	}

	if err := seedSession(cfg, manager, projects, logger); err != nil {
		return err
	}

	b := bridge.NewServer(manager, terminal, logger)
	f := facade.New(manager, projects, sshRegistry, version, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           f.Router(b),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("forge listening", "addr", addr, "state_dir", cfg.StateDir)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedSession opens the workspace named on the command line so the IDE
// has a session waiting when it connects.
func seedSession(cfg *config.Config, manager *session.Manager, projects *session.Projects, logger *slog.Logger) error {
	switch {
	case cfg.Workspace.SSH != "":
		target, err := config.ParseSSHTarget(cfg.Workspace.SSH)
		if err != nil {
			return err
		}
		sess, err := manager.Latest(target.String(), true)
		if err != nil {
			return err
		}
		info := fmt.Sprintf("%s@%s:%d", target.User, target.Host, target.Port)
		if err := projects.Touch(target.String(), true, info); err != nil {
			logger.Warn("projects registry update failed", "error", err)
		}
		logger.Info("workspace ready", "session_id", sess.ID, "ssh", info, "dir", target.Dir)
	case cfg.Workspace.Dir != "":
		abs, err := filepath.Abs(cfg.Workspace.Dir)
		if err != nil {
			return err
		}
		sess, err := manager.Latest(abs, false)
		if err != nil {
			return err
		}
		if err := projects.Touch(abs, false, ""); err != nil {
			logger.Warn("projects registry update failed", "error", err)
		}
		logger.Info("workspace ready", "session_id", sess.ID, "dir", abs)
	}
	return nil
}
