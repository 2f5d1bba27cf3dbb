// Package command provides CLI command definitions for kitesync-cli.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kitedb/kitesync/internal/cli/connection"
	"github.com/kitedb/kitesync/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "kitesync-cli",
		Usage:   "KiteSync replication management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			HealthCommand(),
			PromoteCommand(),
			CheckpointCommand(),
			RetentionCommand(),
			PullCommand(),
			ReseedCommand(),
			BootstrapCommand(),
			WaitCommand(),
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "KiteSync node address (e.g., localhost:5480)",
			EnvVars: []string{"KITESYNC_SERVER"},
			Value:   "localhost:5480",
		},
		&cli.StringFlag{
			Name:    "socket",
			Usage:   "Local admin unix socket path (overrides --server)",
			EnvVars: []string{"KITESYNC_SOCKET"},
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			Usage:   "Admin bearer token for gated operations",
			EnvVars: []string{"KITESYNC_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server string
	Socket string
	Token  string

	Output string // table, json
	Wide   bool

	Verbose bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:  c.String("server"),
		Socket:  c.String("socket"),
		Token:   c.String("token"),
		Output:  c.String("output"),
		Wide:    c.Bool("wide"),
		Verbose: c.Bool("verbose"),
	}
}

// EnsureConnected builds the HTTP client from the global flags. A
// socket path takes precedence over the TCP address.
func EnsureConnected(c *cli.Context) (*connection.HTTPClient, error) {
	flags := ParseGlobalFlags(c)

	if flags.Socket != "" {
		return connection.NewUnixClient(flags.Socket), nil
	}
	return connection.NewHTTPClient(flags.Server, flags.Token), nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
