package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/journal"
	"github.com/rzbill/flobus/internal/message"
)

// newJournalCommand constructs the `journal` command group.
func newJournalCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "journal",
		Aliases: []string{"j"},
		Short:   "Journal operations (append-only message history)",
		Long: `Journal operations.

Commands:
  append   Record a message under a category (sent, received, published)
  read     Print one page of entries from a position
  replay   Run a consumer from a position or a saved checkpoint`,
	}
	cmd.AddCommand(
		newJournalAppendCommand(a),
		newJournalReadCommand(a),
		newJournalReplayCommand(a),
	)
	return cmd
}

func newJournalAppendCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a message to the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			data, _ := cmd.Flags().GetString("data")
			topic, _ := cmd.Flags().GetString("topic")
			headers, _ := cmd.Flags().GetStringArray("header")
			cat, _ := cmd.Flags().GetString("category")

			category, err := journal.ParseCategory(cat)
			if err != nil {
				return err
			}
			msg, err := buildMessage(name, data, headers)
			if err != nil {
				return err
			}
			if topic != "" {
				msg.Headers.Set(message.HeaderTopic, topic)
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			pos, err := s.Journal().Append(cmd.Context(), msg, category)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "position:", pos)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Message name")
	cmd.Flags().String("data", "", "Message content")
	cmd.Flags().String("topic", "", "Message topic")
	cmd.Flags().String("category", "published", "Category: sent|received|published")
	cmd.Flags().StringArray("header", nil, "Extra header as key=value (repeatable)")
	return cmd
}

// bindFilterFlags registers the journal filter flags on cmd.
func bindFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("topic", nil, "Only entries with one of these topics")
	cmd.Flags().StringSlice("category", nil, "Only entries in these categories")
	cmd.Flags().String("name", "", "Only entries whose name contains this text")
	cmd.Flags().String("expr", "", "CEL expression entries must satisfy")
	cmd.Flags().String("since", "", "Only entries at or after this RFC3339 time")
	cmd.Flags().String("until", "", "Only entries before this RFC3339 time")
}

func filterFromFlags(cmd *cobra.Command) (*journal.Filter, error) {
	topics, _ := cmd.Flags().GetStringSlice("topic")
	cats, _ := cmd.Flags().GetStringSlice("category")
	name, _ := cmd.Flags().GetString("name")
	expr, _ := cmd.Flags().GetString("expr")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")

	f := &journal.Filter{Topics: topics, MessageName: name, Expression: expr}
	for _, c := range cats {
		category, err := journal.ParseCategory(c)
		if err != nil {
			return nil, err
		}
		f.Categories = append(f.Categories, category)
	}
	for _, tv := range []struct {
		raw string
		dst *time.Time
	}{{since, &f.From}, {until, &f.To}} {
		if tv.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, tv.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q: %w", tv.raw, err)
		}
		*tv.dst = t
	}
	return f, nil
}

func writeEntry(cmd *cobra.Command, e journal.Entry) error {
	return writeMessage(cmd.OutOrStdout(), e.Data, map[string]any{
		"position":  e.Position.String(),
		"category":  e.Category.String(),
		"timestamp": formatTime(e.Timestamp),
	})
}

func newJournalReadCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read entries from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetString("from")
			count, _ := cmd.Flags().GetInt("count")
			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			j := s.Journal()

			var start journal.Position
			if from != "" {
				if start, err = j.ParsePosition(from); err != nil {
					return err
				}
			}
			res, err := j.Read(cmd.Context(), start, count, filter)
			if err != nil {
				return err
			}
			for _, e := range res.Entries {
				if err := writeEntry(cmd, e); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "next: %s end: %t\n", res.Next, res.EndOfJournal)
			return nil
		},
	}
	cmd.Flags().String("from", "", "Start position (default: beginning)")
	cmd.Flags().Int("count", 100, "Maximum entries to print")
	bindFilterFlags(cmd)
	return cmd
}

func newJournalReplayCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journal entries through a consumer",
		Long: `Replay runs a journal consumer that prints every matching entry.

With --consumer the cursor is checkpointed and a later replay without --from
resumes where the previous one stopped. With --follow the consumer keeps
polling for new entries until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, _ := cmd.Flags().GetString("from")
			consumer, _ := cmd.Flags().GetString("consumer")
			follow, _ := cmd.Flags().GetBool("follow")
			batch, _ := cmd.Flags().GetInt("batch")
			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			j := s.Journal()

			var start journal.Position
			if from != "" {
				if start, err = j.ParsePosition(from); err != nil {
					return err
				}
			}
			opts := s.ConsumerOptions(consumer)
			opts.HaltAtEndOfJournal = !follow
			opts.RethrowExceptions = true
			opts.Filter = filter
			if batch > 0 {
				opts.BatchSize = batch
			}
			total := 0
			opts.Progress = func(p journal.Progress) { total = p.Count }

			handler := message.HandlerFunc(func(_ context.Context, msg message.Message, mctx *message.Context) error {
				if err := writeMessage(cmd.OutOrStdout(), msg, nil); err != nil {
					return err
				}
				mctx.Acknowledge()
				return nil
			})
			next, err := journal.NewConsumer(j, handler, opts).Consume(ctx, start)
			if err != nil && ctx.Err() == nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "replayed: %d next: %v\n", total, next)
			return nil
		},
	}
	cmd.Flags().String("from", "", "Start position (default: checkpoint, then beginning)")
	cmd.Flags().String("consumer", "", "Consumer name; enables checkpoints")
	cmd.Flags().Bool("follow", false, "Keep polling for new entries")
	cmd.Flags().Int("batch", 0, "Entries per read (default from config)")
	bindFilterFlags(cmd)
	return cmd
}
