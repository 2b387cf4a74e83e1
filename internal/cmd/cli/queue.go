package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/message"
)

// newQueueCommand constructs the `queue` command group.
func newQueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Queue operations (durable at-least-once delivery)",
		Long: `Queue operations.

Message Lifecycle:
  Pending → [listener acknowledges] → Acknowledged
     ↓ (attempts exhausted)
  Abandoned (dead letter)

Commands:
  enqueue   Persist a message on a queue
  listen    Deliver pending and new messages, printing each one
  dlq       List abandoned messages`,
	}
	cmd.AddCommand(
		newQueueEnqueueCommand(a),
		newQueueListenCommand(a),
		newQueueDLQCommand(a),
	)
	return cmd
}

func newQueueEnqueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			name, _ := cmd.Flags().GetString("name")
			data, _ := cmd.Flags().GetString("data")
			id, _ := cmd.Flags().GetString("id")
			principal, _ := cmd.Flags().GetString("principal")
			headers, _ := cmd.Flags().GetStringArray("header")
			if queueName == "" {
				return fmt.Errorf("--queue is required")
			}
			msg, err := buildMessage(name, data, headers)
			if err != nil {
				return err
			}
			if id != "" {
				msg.Headers.Set(message.HeaderMessageID, id)
			}
			var p *message.Principal
			if principal != "" {
				p = &message.Principal{Name: principal}
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			qm, err := s.Submit(cmd.Context(), queueName, msg, p)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "id:", qm.ID())
			return nil
		},
	}
	cmd.Flags().String("queue", "", "Queue name")
	cmd.Flags().String("name", "", "Message name")
	cmd.Flags().String("data", "", "Message content")
	cmd.Flags().String("id", "", "Message id (default: generated)")
	cmd.Flags().String("principal", "", "Sender principal name")
	cmd.Flags().StringArray("header", nil, "Extra header as key=value (repeatable)")
	return cmd
}

func newQueueListenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen on a queue and print delivered messages",
		Long: `Listen opens a queue, prints every delivered message as a JSON line and
acknowledges it. Pending messages from earlier runs are delivered first.
Without --max the command runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			limit, _ := cmd.Flags().GetInt("max")
			idle, _ := cmd.Flags().GetDuration("idle")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if queueName == "" {
				return fmt.Errorf("--queue is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			var delivered atomic.Int64
			activity := make(chan struct{}, 1)
			out := cmd.OutOrStdout()
			var mu sync.Mutex

			listener := message.HandlerFunc(func(_ context.Context, msg message.Message, mctx *message.Context) error {
				mu.Lock()
				err := writeMessage(out, msg, nil)
				mu.Unlock()
				if err != nil {
					return err
				}
				mctx.Acknowledge()
				if n := delivered.Add(1); limit > 0 && n >= int64(limit) {
					cancel()
				}
				select {
				case activity <- struct{}{}:
				default:
				}
				return nil
			})

			opts := s.QueueOptions()
			if concurrency > 0 {
				opts.ConcurrencyLimit = concurrency
			}
			if _, err := s.Service().CreateQueue(ctx, queueName, listener, opts); err != nil {
				return err
			}

			var idleC <-chan time.Time
			var timer *time.Timer
			if idle > 0 {
				timer = time.NewTimer(idle)
				defer timer.Stop()
				idleC = timer.C
			}
		wait:
			for {
				select {
				case <-ctx.Done():
					break wait
				case <-activity:
					if timer != nil {
						timer.Reset(idle)
					}
				case <-idleC:
					break wait
				}
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "delivered: %d\n", delivered.Load())
			return nil
		},
	}
	cmd.Flags().String("queue", "", "Queue name")
	cmd.Flags().Int("max", 0, "Exit after this many messages")
	cmd.Flags().Duration("idle", 0, "Exit after this long without deliveries")
	cmd.Flags().Int("concurrency", 0, "Concurrent deliveries (default from config)")
	return cmd
}

func newQueueDLQCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List abandoned messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			limit, _ := cmd.Flags().GetInt("limit")
			if queueName == "" {
				return fmt.Errorf("--queue is required")
			}
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			dead, err := s.DeadLetters(cmd.Context(), queueName, limit)
			if err != nil {
				return err
			}
			for _, qm := range dead {
				if err := writeMessage(cmd.OutOrStdout(), qm.Message, map[string]any{"attempts": qm.Attempts}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("queue", "", "Queue name")
	cmd.Flags().Int("limit", 100, "Maximum messages to list (0 = all)")
	return cmd
}
