package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kitedb/kitesync/internal/cli/connection"
	"github.com/kitedb/kitesync/internal/cli/output"
)

// PullCommand returns the pull command.
func PullCommand() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Apply one page of pending log frames on a replica",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-frames",
				Usage: "Maximum frames to apply (0 = transport default)",
			},
		},
		Action: replicaPull,
	}
}

// BootstrapCommand returns the bootstrap command.
func BootstrapCommand() *cli.Command {
	return &cli.Command{
		Name:   "bootstrap",
		Usage:  "Initialize an empty replica from the primary's snapshot",
		Action: replicaBootstrap,
	}
}

// ReseedCommand returns the reseed command.
func ReseedCommand() *cli.Command {
	return &cli.Command{
		Name:   "reseed",
		Usage:  "Rebuild a replica that fell behind the retained log window",
		Action: replicaReseed,
	}
}

// WaitCommand returns the wait command.
func WaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "Wait until a replica has applied a commit token",
		ArgsUsage: "<token>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait before giving up",
				Value: 5 * time.Second,
			},
		},
		Action: replicaWait,
	}
}

func replicaPull(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	body := map[string]any{}
	if mf := c.Int("max-frames"); mf > 0 {
		body["max_frames"] = mf
	}

	resp, err := client.Post(ctx, "/replication/pull", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		FramesApplied int    `json:"frames_applied"`
		State         string `json:"state"`
		AppliedToken  string `json:"applied_token"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	formatter := output.NewFormatter(output.Format(flags.Output), flags.Wide)
	return formatter.Format(os.Stdout, result)
}

func replicaBootstrap(c *cli.Context) error {
	return replicaSeed(c, "/replication/bootstrap", "Bootstrapping from primary snapshot...")
}

func replicaReseed(c *cli.Context) error {
	return replicaSeed(c, "/replication/reseed", "Reseeding from primary snapshot...")
}

// replicaSeed runs a snapshot install. Both bootstrap and reseed return
// the replica's status once the snapshot is applied.
func replicaSeed(c *cli.Context, path, banner string) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	// Snapshot transfer can be large; allow a generous window.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Println(banner)
	resp, err := client.Post(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		State        string `json:"state"`
		AppliedToken string `json:"applied_token"`
		RecordCount  int64  `json:"record_count"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		formatter := &output.JSONFormatter{}
		return formatter.Format(os.Stdout, result)
	default:
		fmt.Printf("Done: %d records, applied %s (state: %s)\n",
			result.RecordCount, result.AppliedToken, result.State)
		return nil
	}
}

func replicaWait(c *cli.Context) error {
	token := c.Args().First()
	if token == "" {
		return fmt.Errorf("usage: wait <token> (e.g., wait 2:17)")
	}

	timeout := c.Duration("timeout")

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/replication/wait", map[string]any{
		"token":      token,
		"timeout_ms": timeout.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Reached bool   `json:"reached"`
		Applied string `json:"applied"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		formatter := &output.JSONFormatter{}
		return formatter.Format(os.Stdout, result)
	default:
		if result.Reached {
			fmt.Printf("✓ Replica reached %s (applied: %s)\n", token, result.Applied)
			return nil
		}
		fmt.Printf("✗ Timed out waiting for %s (applied: %s)\n", token, result.Applied)
		return fmt.Errorf("token not reached within %s", timeout)
	}
}
