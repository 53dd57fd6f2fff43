package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/sflogs/internal/httpserver"
	"github.com/tinytelemetry/sflogs/internal/logdata"
	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/logviewer"
	"github.com/tinytelemetry/sflogs/internal/model"
	"github.com/tinytelemetry/sflogs/internal/purge"
	"github.com/tinytelemetry/sflogs/internal/salesforce"
	"github.com/tinytelemetry/sflogs/internal/settings"
	"github.com/tinytelemetry/sflogs/internal/socketrpc"
	"github.com/tinytelemetry/sflogs/internal/tui"
)

// run connects to the org, starts the engine and its surfaces, and blocks
// until the TUI exits or a signal arrives.
func run(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger(cfg)
	defer cleanupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, session, err := connect(ctx, cfg, salesforce.ExecRunner)
	if err != nil {
		return err
	}
	logging.Info().Str("instance", session.InstanceURL).Str("user", session.Username).Msg("connected to org")

	store, err := settings.Open(cfg.ConfigPath)
	if err != nil {
		return err
	}

	engine := logdata.New(source, store, cfg.engineSettings(), logdata.WithLogger(logging.With("logdata")))
	defer engine.Dispose()
	engine.OnError(func(err error) {
		logging.Warn().Err(err).Msg("engine error")
	})

	viewer := logviewer.New(source, cfg.LogsDir)
	purger := purge.New(source, engine)

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		gin.SetMode(gin.ReleaseMode)
		apiServer := httpserver.NewServer(cfg.APIAddr, engine, viewer, purger)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer func() { _ = apiServer.Stop() }()
	}

	// Start socket RPC server for editor integration
	sockServer := socketrpc.NewServer(cfg.SocketPath, engine, viewer, purger)
	if err := sockServer.Start(); err != nil {
		logging.Warn().Err(err).Msg("failed to start socket server")
	} else {
		defer sockServer.Stop()
	}

	// The program is attached before the engine starts so the first load
	// reaches the grid.
	var program *tea.Program
	if !cfg.Headless {
		logs := tui.NewLogsPage(ctx, engine, viewer, purger)
		app := tui.NewApp(logs, tui.NewViewerPage())
		program = tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
		logs.SetSender(program.Send)
		detach := tui.Attach(program.Send, engine)
		defer detach()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A failed first load is reported through the error channel; the
		// scheduler keeps retrying.
		_ = engine.Start(gctx)
		return nil
	})

	if program != nil {
		g.Go(func() error {
			defer stop()
			return runProgram(ctx, program)
		})
	} else {
		printStartupBanner(cfg, session)
		g.Go(func() error {
			<-gctx.Done()
			logging.Info().Msg("shutting down")
			return nil
		})
	}

	return g.Wait()
}

// connect builds the log source, discovering the session through the sf
// CLI when no instance URL or token is configured.
func connect(ctx context.Context, cfg appConfig, runner salesforce.CommandRunner) (model.LogSource, salesforce.Session, error) {
	session := salesforce.Session{
		InstanceURL: cfg.InstanceURL,
		AccessToken: cfg.AccessToken,
		APIVersion:  cfg.APIVersion,
	}
	if session.InstanceURL == "" || session.AccessToken == "" {
		discovered, err := salesforce.DiscoverSession(ctx, cfg.TargetOrg, runner)
		if err != nil {
			return nil, session, fmt.Errorf("discover org session: %w", err)
		}
		if cfg.APIVersion != "" {
			discovered.APIVersion = cfg.APIVersion
		}
		session = discovered
	}

	clientCfg := session.Config()
	clientCfg.Timeout = cfg.RequestTimeout
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.MaxRetries = cfg.MaxRetries
	client, err := salesforce.NewClient(clientCfg)
	if err != nil {
		return nil, session, err
	}
	return salesforce.NewBreaker(client, salesforce.BreakerSettings{}), session, nil
}

func runProgram(ctx context.Context, p *tea.Program) error {
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal (use -headless)")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// configureRuntimeLogger sends logs to a file while the TUI owns the
// terminal and to stderr otherwise.
func configureRuntimeLogger(cfg appConfig) func() {
	if cfg.Headless {
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		return func() {}
	}
	out, closeFn, err := logging.OpenRuntimeFile("sflogs")
	if err != nil {
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		logging.Warn().Err(err).Msg("cannot open runtime log file, logging to stderr")
		return func() {}
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: out})
	return closeFn
}

func printStartupBanner(cfg appConfig, session salesforce.Session) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, cyan.Bold(true).Render("    sflogs")+"  "+dim.Render("v"+version))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Org"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Instance       %s", check, cyan.Render(session.InstanceURL)))
	if session.Username != "" {
		lines = append(lines, fmt.Sprintf("    %s  User           %s", check, dim.Render(session.Username)))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Refresh"))
	lines = append(lines, "")
	if cfg.AutoRefresh {
		lines = append(lines, fmt.Sprintf("    %s  Auto-refresh   %s", check, dim.Render("every "+cfg.RefreshInterval.String())))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Auto-refresh   %s", dot, dim.Render("off")))
	}
	scope := "all users"
	if cfg.CurrentUserOnly {
		scope = "current user only"
	}
	lines = append(lines, fmt.Sprintf("    %s  Scope          %s", check, dim.Render(scope)))
	lines = append(lines, fmt.Sprintf("    %s  Saved Logs     %s", check, dim.Render(shortenPath(cfg.LogsDir))))
	lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
