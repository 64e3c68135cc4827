package deckhand

import (
	"context"
	"fmt"
	"time"

	"github.com/igorsilveira/deckhand/pkg/audit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the audit log",
	RunE:  runAudit,
}

var (
	auditEventType string
	auditTaskID    string
	auditAgentID   string
	auditLimit     int
	auditSince     string
)

func init() {
	auditCmd.Flags().StringVar(&auditEventType, "type", "", "filter by event type")
	auditCmd.Flags().StringVar(&auditTaskID, "task", "", "filter by task or run ID")
	auditCmd.Flags().StringVar(&auditAgentID, "agent", "", "filter by agent or process name")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2024-01-01)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	auditLog, err := audit.Open(cfg.Audit.DSN)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	filter := audit.Filter{
		EventType: auditEventType,
		TaskID:    auditTaskID,
		AgentID:   auditAgentID,
		Limit:     auditLimit,
	}

	if auditSince != "" {
		t, err := time.Parse("2006-01-02", auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since format (use YYYY-MM-DD): %w", err)
		}
		filter.Since = t
	}

	entries, err := auditLog.Query(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Format("2006-01-02 15:04:05")
		fmt.Printf("[%s] %-16s task=%-36s agent=%-12s actor=%-12s %s\n",
			ts, e.EventType, e.TaskID, e.AgentID, e.Actor, e.Detail,
		)
	}

	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}
