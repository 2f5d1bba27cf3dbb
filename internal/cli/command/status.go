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

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the node's replication status",
		Action: nodeStatus,
	}
}

// HealthCommand returns the health command.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Check node health",
		Action: nodeHealth,
	}
}

func nodeStatus(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/replication/status")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result map[string]any
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		formatter := &output.JSONFormatter{}
		return formatter.Format(os.Stdout, result)
	default:
		role, _ := result["role"].(string)
		fmt.Printf("Replication Status\n")
		fmt.Printf("==================\n\n")
		fmt.Printf("Role:            %s\n", role)

		switch role {
		case "primary":
			if epoch, ok := result["epoch"].(float64); ok {
				fmt.Printf("Epoch:           %.0f\n", epoch)
			}
			if head, ok := result["last_commit_token"].(string); ok {
				fmt.Printf("Head:            %s\n", head)
			}
			if retained, ok := result["retained_from_log_index"].(float64); ok {
				fmt.Printf("Retained from:   %.0f\n", retained)
			}
			if segments, ok := result["segment_count"].(float64); ok {
				fmt.Printf("Segments:        %.0f\n", segments)
			}
			if replicas, ok := result["replica_lags"].([]any); ok && len(replicas) > 0 {
				fmt.Printf("\nReplicas (%d tracked):\n\n", len(replicas))
				table := &output.Table{}
				table.SetHeaders("REPLICA", "EPOCH", "LOG_INDEX")
				for _, entry := range replicas {
					lag, ok := entry.(map[string]any)
					if !ok {
						continue
					}
					id, _ := lag["replica_id"].(string)
					epoch, _ := lag["epoch"].(float64)
					index, _ := lag["log_index"].(float64)
					table.AddRow(id, fmt.Sprintf("%.0f", epoch), fmt.Sprintf("%.0f", index))
				}
				if err := table.Render(os.Stdout); err != nil {
					return err
				}
			}
		case "replica":
			if state, ok := result["state"].(string); ok {
				fmt.Printf("State:           %s\n", state)
			}
			if applied, ok := result["applied_token"].(string); ok {
				fmt.Printf("Applied:         %s\n", applied)
			}
			if src, ok := result["source"].(string); ok {
				fmt.Printf("Source:          %s\n", src)
			}
			if records, ok := result["record_count"].(float64); ok {
				fmt.Printf("Records:         %.0f\n", records)
			}
			if lastErr, ok := result["last_error"].(string); ok && lastErr != "" {
				fmt.Printf("Last error:      %s\n", lastErr)
			}
		}
		return nil
	}
}

func nodeHealth(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Health endpoint requires no auth.
	resp, err := client.Get(ctx, "/health")
	if err != nil {
		PrintError("health check failed: %v", err)
		return fmt.Errorf("node unreachable")
	}

	var result struct {
		Status string `json:"status"`
		Role   string `json:"role"`
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
		if result.Status == "healthy" {
			fmt.Printf("✓ Node is healthy (%s)\n", result.Role)
			fmt.Printf("  Target: %s\n", client.BaseURL())
		} else {
			fmt.Printf("✗ Node is unhealthy: %s\n", result.Status)
		}
		return nil
	}
}
