// Package mcpserver exposes the marketplace and weather operations as MCP tools.
package mcpserver

import (
	"context"
	"time"

	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/ggonzalez94/mercata-mcp/internal/observability"
	"github.com/ggonzalez94/mercata-mcp/internal/policy"
	"github.com/ggonzalez94/mercata-mcp/internal/providers"
	"github.com/ggonzalez94/mercata-mcp/internal/version"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

const instructions = "Mercata marketplace assistant. Provides tools to inspect lending reserves and user holdings, " +
	"purchase listed assets with USDST, stake assets as collateral, borrow USDST, and read US weather alerts and forecasts."

// Options configures a Server. Nil providers leave their tools unregistered.
type Options struct {
	Marketplace providers.Marketplace
	Weather     providers.Weather
	Metrics     *observability.Metrics
	Log         logrus.FieldLogger
	EnableTools []string
}

// Server wraps the MCP protocol server with the registered tools.
type Server struct {
	server  *mcp.Server
	market  providers.Marketplace
	weather providers.Weather
	metrics *observability.Metrics
	log     logrus.FieldLogger
	allow   []string
	tools   []model.ToolInfo
}

// New creates an MCP server with every tool the allow-list accepts.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{Name: version.CLIName, Version: version.CLIVersion},
			&mcp.ServerOptions{Instructions: instructions},
		),
		market:  opts.Marketplace,
		weather: opts.Weather,
		metrics: opts.Metrics,
		log:     log,
		allow:   opts.EnableTools,
	}
	s.registerTools()
	return s
}

// Run serves on stdio, blocking until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.log.WithField("tools", len(s.tools)).Info("MCP server running on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []model.ToolInfo {
	return append([]model.ToolInfo(nil), s.tools...)
}

// addTool registers one tool unless the allow-list rejects it. The published
// input schema carries limits; every call is timed and counted by outcome.
func addTool[In any](s *Server, info model.ToolInfo, limits fieldLimits, handler func(context.Context, In) *mcp.CallToolResult) {
	if err := policy.CheckToolAllowed(s.allow, info); err != nil {
		s.log.WithField("tool", info.Name).Debug("tool disabled by --enable-tools")
		return
	}
	s.tools = append(s.tools, info)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        info.Name,
		Description: info.Description,
		InputSchema: inputSchema[In](limits),
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		started := time.Now()
		res := handler(ctx, in)
		outcome := "ok"
		if res.IsError {
			outcome = "error"
		}
		s.metrics.ObserveTool(info.Name, outcome, time.Since(started))
		return res, nil, nil
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
