package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/mercata-mcp/internal/auth"
	"github.com/ggonzalez94/mercata-mcp/internal/config"
	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/observability"
	"github.com/ggonzalez94/mercata-mcp/internal/out"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
	"github.com/ggonzalez94/mercata-mcp/internal/providers/mercata"
	"github.com/ggonzalez94/mercata-mcp/internal/providers/nws"
	"github.com/ggonzalez94/mercata-mcp/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// market and weather replace the upstream clients when set.
	market  providers.Marketplace
	weather providers.Weather
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	root        *cobra.Command
	lastCommand string

	log     *logrus.Logger
	metrics *observability.Metrics
	market  providers.Marketplace
	weather providers.Weather
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, market: r.market, weather: r.weather}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if err == nil {
		return 0
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "MCP server for the Mercata marketplace and US weather data",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				if _, ok := clierr.As(err); ok {
					return err
				}
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			log, err := newLogger(settings, s.runner.stderr)
			if err != nil {
				return err
			}
			s.log = log
			if s.metrics == nil {
				s.metrics = observability.NewMetrics()
			}
			s.wireProviders()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.serve(cmd.Context(), s.settings.MetricsAddr)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&s.flags.LogFormat, "log-format", "", "Log format (text, json)")
	cmd.PersistentFlags().StringVar(&s.flags.EnableTools, "enable-tools", "", "Allowlist tool names or categories (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the MCP server runs")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newToolsCommand())
	cmd.AddCommand(s.newReservesCommand())
	cmd.AddCommand(s.newUserCommand())
	cmd.AddCommand(s.newAssetCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// newLogger builds the process logger. It always writes to w (stderr) since
// stdout carries the MCP protocol.
func newLogger(settings config.Settings, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid log level", err)
	}
	log.SetLevel(level)
	switch settings.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return log, nil
}

// wireProviders builds the authenticated marketplace clients and the weather
// client unless test doubles are already set. Credentials are only checked
// when the first marketplace call needs a token.
func (s *runtimeState) wireProviders() {
	timeout := s.settings.Timeout
	if s.market == nil {
		authLog := s.log.WithField("component", "auth")
		idp := httpx.New(timeout,
			httpx.WithName("oauth"),
			httpx.WithLogger(authLog),
			httpx.WithObserver(s.metrics),
		)
		authenticator := auth.New(s.settings.Username, auth.NewMemoryCache(), auth.NewOAuthExchanger(s.settings, idp), authLog)

		apiLog := s.log.WithField("component", "mercata")
		query := httpx.New(timeout,
			httpx.WithName("query"),
			httpx.WithBaseURL(mercata.QueryBaseURL(s.settings.MarketplaceURL)),
			httpx.WithBearer(authenticator),
			httpx.WithLogger(apiLog),
			httpx.WithObserver(s.metrics),
		)
		tx := httpx.New(timeout,
			httpx.WithName("tx"),
			httpx.WithBaseURL(mercata.TxBaseURL(s.settings.MarketplaceURL)),
			httpx.WithBearer(authenticator),
			httpx.WithLogger(apiLog),
			httpx.WithObserver(s.metrics),
		)
		s.market = mercata.New(query, tx, authenticator, apiLog)
	}
	if s.weather == nil {
		opts := append(nws.ClientOptions(s.settings.WeatherURL),
			httpx.WithLogger(s.log.WithField("component", "nws")),
			httpx.WithObserver(s.metrics),
		)
		s.weather = nws.New(httpx.New(timeout, opts...))
	}
}

func (s *runtimeState) emitSuccess(data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   s.lastCommand,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(err error) {
	commandPath := s.lastCommand
	if commandPath == "" {
		commandPath = version.CLIName
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.String()
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = cErr.Code.String()
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
