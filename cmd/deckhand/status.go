package deckhand

import (
	"fmt"
	"net/http"
	"time"

	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/supervisor"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the readiness of every Deckhand service",
	RunE:  runStatus,
}

type serviceStatus struct {
	name   string
	ready  bool
	detail string
}

func checkServices(c *config.Config, client *http.Client) []serviceStatus {
	var out []serviceStatus
	for _, p := range supervisor.Processes("", "", c) {
		s := serviceStatus{name: p.Name}
		resp, err := client.Get(p.ReadyURL)
		if err != nil {
			s.detail = "not running"
			out = append(out, s)
			continue
		}
		resp.Body.Close()
		s.ready = resp.StatusCode == http.StatusOK
		if s.ready {
			s.detail = "ready"
		} else {
			s.detail = fmt.Sprintf("not ready (%s)", resp.Status)
		}
		out = append(out, s)
	}
	return out
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	for _, s := range checkServices(cfg, client) {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", s.name, s.detail)
	}
	return nil
}
