// Command progres searches protein structures against embedding databases.
package main

import (
	"os"

	"github.com/turtacn/progres-go/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
