package deckhand

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/igorsilveira/deckhand/pkg/events"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect pipeline events",
}

var eventsFromStart bool

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow pipeline state transitions from Kafka",
	RunE:  runEventsTail,
}

func init() {
	eventsTailCmd.Flags().BoolVar(&eventsFromStart, "from-start", false, "replay the topic from the beginning")
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if cfg.Events.Driver != "kafka" {
		return errors.New(`events tail needs [events] driver = "kafka"`)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	enc := json.NewEncoder(cmd.OutOrStdout())
	return events.Tail(ctx, cfg.Events.Brokers, cfg.Events.Topic, eventsFromStart, func(ev events.Event) {
		_ = enc.Encode(ev)
	})
}
