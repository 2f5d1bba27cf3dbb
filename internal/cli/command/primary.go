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

// PromoteCommand returns the promote command.
func PromoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "promote",
		Usage: "Advance the primary to the next epoch, fencing stale writers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: promoteEpoch,
	}
}

// CheckpointCommand returns the checkpoint command.
func CheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:   "checkpoint",
		Usage:  "Write a durable snapshot of the primary's current state",
		Action: runCheckpoint,
	}
}

// RetentionCommand returns the retention command.
func RetentionCommand() *cli.Command {
	return &cli.Command{
		Name:   "retention",
		Usage:  "Run a retention pass, trimming log segments all replicas have applied",
		Action: runRetention,
	}
}

func promoteEpoch(c *cli.Context) error {
	if !c.Bool("yes") {
		fmt.Print("Promoting invalidates in-flight writes from the previous epoch. Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return nil
		}
	}

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/replication/promote", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Epoch uint64 `json:"epoch"`
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
		fmt.Printf("Promoted to epoch %d\n", result.Epoch)
		return nil
	}
}

func runCheckpoint(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("Writing checkpoint...")
	resp, err := client.Post(ctx, "/replication/checkpoint", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	fmt.Println("Checkpoint completed")
	return nil
}

func runRetention(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/replication/retention/run", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result struct {
		PrunedSegments int    `json:"pruned_segments"`
		RetainedFrom   uint64 `json:"retained_from_log_index"`
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
		fmt.Printf("Retention pass completed:\n")
		fmt.Printf("  Segments pruned: %d\n", result.PrunedSegments)
		fmt.Printf("  Retained from:   log index %d\n", result.RetainedFrom)
		return nil
	}
}
