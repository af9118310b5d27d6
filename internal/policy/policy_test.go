package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
)

var (
	alerts   = model.ToolInfo{Name: "get-alerts", Category: "weather"}
	purchase = model.ToolInfo{Name: "purchase-asset-for-user", Category: "mercata", Mutating: true}
)

func TestCheckToolAllowed(t *testing.T) {
	if err := CheckToolAllowed(nil, purchase); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckToolAllowed([]string{" Get-Alerts "}, alerts); err != nil {
		t.Fatalf("expected tool to be allowed by name: %v", err)
	}
	if err := CheckToolAllowed([]string{"mercata"}, purchase); err != nil {
		t.Fatalf("expected tool to be allowed by category: %v", err)
	}
	err := CheckToolAllowed([]string{"weather"}, purchase)
	if !clierr.IsCode(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]string{"get-alerts"}, []model.ToolInfo{alerts, purchase})
	if len(got) != 1 || got[0].Name != "get-alerts" {
		t.Fatalf("unexpected filtered tools: %+v", got)
	}
}
