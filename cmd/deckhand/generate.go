package deckhand

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/igorsilveira/deckhand/pkg/a2a"
	"github.com/igorsilveira/deckhand/pkg/consumer"
	"github.com/igorsilveira/deckhand/pkg/gateway"
	"github.com/igorsilveira/deckhand/pkg/tui"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate a slide deck and stream its progress",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

var (
	generateURL     string
	generateTimeout time.Duration
	generateWS      bool
	generateTUI     bool
)

func init() {
	generateCmd.Flags().StringVar(&generateURL, "url", "", "coordinator URL (default from config)")
	generateCmd.Flags().DurationVar(&generateTimeout, "timeout", 0, "give up after this long (default from config)")
	generateCmd.Flags().BoolVar(&generateWS, "ws", false, "stream over WebSocket instead of server-sent events")
	generateCmd.Flags().BoolVar(&generateTUI, "tui", false, "show an interactive progress view")
}

// ErrGenerationFailed is returned when the pipeline ends in a failure.
var ErrGenerationFailed = errors.New("generation failed")

func runGenerate(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(strings.Join(args, " "))
	if topic == "" {
		return errors.New("topic must not be empty")
	}
	url := generateURL
	if url == "" {
		url = cfg.Client.CoordinatorURL
	}
	timeout := generateTimeout
	if timeout == 0 {
		timeout = cfg.Client.Timeout.Duration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}

	consume := func(ctx context.Context, r consumer.Renderer) consumer.Outcome {
		src, closeSrc, err := openSource(ctx, url, topic)
		if err != nil {
			return consumer.Outcome{Err: err}
		}
		defer closeSrc()
		return consumer.New(r, logger).Consume(ctx, src)
	}

	var out consumer.Outcome
	if generateTUI {
		var err error
		out, err = tui.Run(ctx, topic, consume)
		if err != nil {
			return err
		}
	} else {
		out = consume(ctx, consumer.NewPlainRenderer(cmd.OutOrStdout()))
	}
	return outcomeError(out)
}

// openSource starts a run against the coordinator and returns its frames.
func openSource(ctx context.Context, url, topic string) (consumer.FrameSource, func(), error) {
	if generateWS {
		s, err := gateway.DialStream(ctx, url, topic)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := a2a.NewHTTPClient().OpenStream(ctx, url, a2a.NewTextMessage(a2a.RoleUser, topic))
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func outcomeError(out consumer.Outcome) error {
	switch {
	case out.Err != nil:
		return fmt.Errorf("stream: %w", out.Err)
	case out.Failed:
		return fmt.Errorf("%w: %s", ErrGenerationFailed, out.Reason)
	case !out.Terminal:
		return fmt.Errorf("%w: stream ended without a result", ErrGenerationFailed)
	}
	return nil
}
