package version

import "fmt"

var (
	CLIName    = "mercata-mcp"
	CLIVersion = "1.0.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", CLIVersion, Commit, BuildDate)
}
