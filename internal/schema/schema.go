// Package schema describes the CLI command tree and the MCP tool surface as JSON.
package schema

import (
	"fmt"
	"slices"
	"strings"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Document struct {
	Command CommandSchema    `json:"command"`
	Tools   []model.ToolInfo `json:"tools,omitempty"`
}

type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Args        string          `json:"args,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Global    bool   `json:"global,omitempty"`
}

// Build describes the command at commandPath (root when empty). Tools are
// attached only when describing the root or the serve command.
func Build(root *cobra.Command, commandPath string, tools []model.ToolInfo) (Document, error) {
	cmd, err := find(root, commandPath)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Command: serialize(cmd)}
	if cmd == root || cmd.Name() == "serve" {
		doc.Tools = tools
	}
	return doc, nil
}

func find(root *cobra.Command, commandPath string) (*cobra.Command, error) {
	cmd := root
	for _, part := range strings.Fields(commandPath) {
		var next *cobra.Command
		for _, c := range cmd.Commands() {
			if c.Name() == part || slices.Contains(c.Aliases, part) {
				next = c
				break
			}
		}
		if next == nil {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("command not found: %s", strings.TrimSpace(commandPath)))
		}
		cmd = next
	}
	return cmd, nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:  strings.TrimSpace(cmd.CommandPath()),
		Use:   cmd.Use,
		Short: cmd.Short,
		Flags: collectFlags(cmd),
	}
	if parts := strings.Fields(cmd.Use); len(parts) > 1 {
		s.Args = strings.Join(parts[1:], " ")
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || !sub.IsAvailableCommand() {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	items := []FlagSchema{}
	visit := func(global bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden {
				return
			}
			items = append(items, FlagSchema{
				Name:      f.Name,
				Shorthand: f.Shorthand,
				Type:      f.Value.Type(),
				Usage:     f.Usage,
				Default:   f.DefValue,
				Global:    global,
			})
		}
	}
	cmd.LocalNonPersistentFlags().VisitAll(visit(false))
	if cmd.HasParent() {
		cmd.InheritedFlags().VisitAll(visit(true))
	} else {
		cmd.PersistentFlags().VisitAll(visit(true))
	}
	return items
}
