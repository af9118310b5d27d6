package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/mcpserver"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/policy"
	"github.com/ggonzalez94/mercata-mcp/internal/schema"
	"github.com/ggonzalez94/mercata-mcp/internal/version"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.serve(cmd.Context(), s.settings.MetricsAddr)
		},
	}
}

func (s *runtimeState) newMCPServer() *mcpserver.Server {
	return mcpserver.New(mcpserver.Options{
		Marketplace: s.market,
		Weather:     s.weather,
		Metrics:     s.metrics,
		Log:         s.log.WithField("component", "mcp"),
		EnableTools: s.settings.EnableTools,
	})
}

// serve blocks until the client closes stdin or the process is signalled.
func (s *runtimeState) serve(ctx context.Context, metricsAddr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := s.newMCPServer()
	if len(server.Tools()) == 0 {
		return clierr.New(clierr.CodeUsage, "no tools enabled; check --enable-tools")
	}
	if metricsAddr != "" {
		go func() {
			s.log.WithField("addr", metricsAddr).Info("serving metrics")
			if err := s.metrics.Serve(ctx, metricsAddr); err != nil {
				s.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.WithError(err).Error("Fatal error in main()")
		return clierr.Wrap(clierr.CodeInternal, "run mcp server", err)
	}
	return nil
}

func (s *runtimeState) newToolsCommand() *cobra.Command {
	root := &cobra.Command{Use: "tools", Short: "Tool catalog commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the MCP tools enabled by --enable-tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(s.enabledTools(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) enabledTools() []model.ToolInfo {
	return policy.Filter(s.settings.EnableTools, mcpserver.Catalog())
}

func (s *runtimeState) newReservesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reserves [asset names...]",
		Short: "Show active lending reserves with their escrows",
		RunE: func(cmd *cobra.Command, args []string) error {
			reserves, err := s.market.GetReserve(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if len(reserves) == 0 {
				warning := "no reserves found"
				if len(args) > 0 {
					warning = "no reserve found for asset: " + strings.Join(args, ", ")
				}
				return s.emitSuccess([]model.Reserve{}, []string{warning})
			}
			return s.emitSuccess(reserves, nil)
		},
	}
}

func (s *runtimeState) newUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "user [name|address]",
		Short: "Show holdings and escrows for a user (defaults to the signed-in account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := ""
			if len(args) == 1 {
				user = args[0]
			}
			username, err := mcpserver.ResolveUser(cmd.Context(), s.market, user)
			if err != nil {
				return err
			}
			if username == "" {
				return clierr.New(clierr.CodeUsage, "no username provided and the signed-in token carries no name")
			}
			details, err := s.market.GetUserDetails(cmd.Context(), username)
			if err != nil {
				return err
			}
			if details == nil {
				return s.emitSuccess(nil, []string{"no user found for username: " + username})
			}
			return s.emitSuccess(details, nil)
		},
	}
}

func (s *runtimeState) newAssetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "asset <name>",
		Short: "Find a listed asset and its open USDST sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return clierr.New(clierr.CodeUsage, "asset name is required")
			}
			listing, err := s.market.FindAsset(cmd.Context(), name)
			if err != nil {
				return err
			}
			if listing == nil {
				return s.emitSuccess(nil, []string{"no asset found for name: " + name})
			}
			var warnings []string
			if !listing.HasOpenSale() || listing.TokenPaymentService == nil {
				warnings = append(warnings, fmt.Sprintf("asset %s has no open sale accepting USDST", listing.Name))
			}
			return s.emitSuccess(listing, warnings)
		},
	}
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command and tool schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "), s.enabledTools())
			if err != nil {
				return err
			}
			return s.emitSuccess(data, nil)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}
