package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
)

// CheckToolAllowed accepts every tool when the allowlist is empty. Otherwise
// an entry must name the tool or its category.
func CheckToolAllowed(allowlist []string, tool model.ToolInfo) error {
	if len(allowlist) == 0 {
		return nil
	}
	name := normalize(tool.Name)
	category := normalize(tool.Category)
	for _, allowed := range allowlist {
		entry := normalize(allowed)
		if entry == "" {
			continue
		}
		if entry == name || entry == category {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "tool "+tool.Name+" blocked by --enable-tools policy")
}

// Filter keeps the tools the allowlist accepts, in order.
func Filter(allowlist []string, tools []model.ToolInfo) []model.ToolInfo {
	out := make([]model.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		if CheckToolAllowed(allowlist, tool) == nil {
			out = append(out, tool)
		}
	}
	return out
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
