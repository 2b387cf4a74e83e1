package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/flobus/internal/diag"
	"github.com/rzbill/flobus/internal/message"
	"github.com/rzbill/flobus/pkg/log"
)

const (
	DefaultPollingInterval = time.Second
	DefaultBatchSize       = 100
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	// PollingInterval is the wait before re-reading once caught up.
	PollingInterval time.Duration
	BatchSize       int
	// HaltAtEndOfJournal makes Consume return once it is caught up.
	HaltAtEndOfJournal bool
	// RethrowExceptions makes Consume return handler failures and missing
	// acknowledgements instead of logging them and moving on.
	RethrowExceptions bool
	Filter            *Filter
	// Progress, when set, is called after every non-empty batch.
	Progress func(Progress)

	// Name and Checkpoints enable durable cursors: Consume without a start
	// position resumes from the saved one, and the cursor is saved after
	// every batch.
	Name        string
	Checkpoints Checkpoints

	Logger log.Logger
	Sink   diag.Sink
}

// Progress reports one processed batch.
type Progress struct {
	// Last is the position of the last entry handled in the batch.
	Last         Position
	Next         Position
	EndOfJournal bool
	// Count is the number of entries processed by this Consume call so far.
	Count int
}

// Consumer replays journal entries into a handler.
type Consumer struct {
	journal *Journal
	handler message.Handler
	opts    ConsumerOptions
}

// NewConsumer creates a consumer of j that dispatches to handler.
func NewConsumer(j *Journal, handler message.Handler, opts ConsumerOptions) *Consumer {
	if opts.PollingInterval <= 0 {
		opts.PollingInterval = DefaultPollingInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().WithComponent("journal-consumer")
	}
	if opts.Name != "" {
		opts.Logger = opts.Logger.With(log.Str("consumer", opts.Name))
	}
	if opts.Sink == nil {
		opts.Sink = diag.Nop()
	}
	return &Consumer{journal: j, handler: handler, opts: opts}
}

// Consume reads forward from start, or from the saved checkpoint, or from
// the beginning, and dispatches every matching entry. It returns the
// position of the first unprocessed entry, which callers may pass back to
// resume. On cancellation the error is ctx.Err().
func (c *Consumer) Consume(ctx context.Context, start Position) (Position, error) {
	if c.handler == nil {
		return start, errors.New("journal: consumer handler is nil")
	}
	cursor, err := c.resolveStart(ctx, start)
	if err != nil {
		return start, err
	}
	if _, err := NewMatcher(c.opts.Filter); err != nil {
		return cursor, err
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return c.stop(cursor, err)
		}
		res, err := c.journal.Read(ctx, cursor, c.opts.BatchSize, c.opts.Filter)
		if err != nil {
			if ctx.Err() != nil {
				return c.stop(cursor, ctx.Err())
			}
			return c.stop(cursor, err)
		}

		for i, e := range res.Entries {
			if err := ctx.Err(); err != nil {
				return c.stop(e.Position, err)
			}
			if err := c.dispatch(ctx, e); err != nil {
				if ctx.Err() != nil {
					return c.stop(e.Position, ctx.Err())
				}
				return c.stop(e.Position, err)
			}
			processed++
			if i+1 < len(res.Entries) {
				cursor = res.Entries[i+1].Position
			} else {
				cursor = res.Next
			}
		}

		if len(res.Entries) > 0 {
			c.checkpoint(ctx, cursor)
			if c.opts.Progress != nil {
				c.opts.Progress(Progress{Last: res.Entries[len(res.Entries)-1].Position, Next: res.Next, EndOfJournal: res.EndOfJournal, Count: processed})
			}
			continue
		}
		if !res.EndOfJournal {
			continue
		}
		if c.opts.HaltAtEndOfJournal {
			c.opts.Sink.Emit(ctx, diag.Event{Type: diag.ConsumerHalted, Consumer: c.opts.Name, Position: cursor.String(), Time: time.Now()})
			c.opts.Logger.Debug("end of journal reached, halting", log.Str("position", cursor.String()), log.Int("processed", processed))
			return cursor, nil
		}
		if err := c.journal.WaitForAppend(ctx, c.opts.PollingInterval); err != nil {
			return c.stop(cursor, err)
		}
	}
}

func (c *Consumer) resolveStart(ctx context.Context, start Position) (Position, error) {
	if start != nil {
		return start, nil
	}
	if c.opts.Name != "" && c.opts.Checkpoints != nil {
		saved, ok, err := c.opts.Checkpoints.Load(ctx, c.opts.Name)
		if err != nil {
			return nil, fmt.Errorf("journal: load checkpoint %q: %w", c.opts.Name, err)
		}
		if ok {
			pos, err := c.journal.ParsePosition(saved)
			if err != nil {
				return nil, fmt.Errorf("journal: checkpoint %q: %w", c.opts.Name, err)
			}
			c.opts.Logger.Info("resuming from checkpoint", log.Str("position", pos.String()))
			return pos, nil
		}
	}
	pos, err := c.journal.GetBeginningOfJournal(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: beginning: %w", err)
	}
	return pos, nil
}

// stop saves the cursor and returns it with err.
func (c *Consumer) stop(cursor Position, err error) (Position, error) {
	c.checkpoint(context.Background(), cursor)
	return cursor, err
}

func (c *Consumer) checkpoint(ctx context.Context, cursor Position) {
	if c.opts.Name == "" || c.opts.Checkpoints == nil || cursor == nil {
		return
	}
	if err := c.opts.Checkpoints.Save(context.WithoutCancel(ctx), c.opts.Name, cursor.String()); err != nil {
		c.opts.Logger.Warn("save checkpoint failed", log.Err(err))
		c.opts.Sink.Emit(ctx, diag.Event{Type: diag.StorageFailed, Consumer: c.opts.Name, Position: cursor.String(), Err: err, Detail: "checkpoint", Time: time.Now()})
	}
}

// dispatch hands e to the handler. It returns an error only when the
// failure must stop the consumer.
func (c *Consumer) dispatch(ctx context.Context, e Entry) error {
	mctx := message.NewContext(e.Data, nil)
	err := c.invoke(ctx, e, mctx)
	pos := e.Position.String()
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.opts.Logger.Warn("journal handler failed",
			log.Str("position", pos),
			log.Str("message_id", e.Data.ID()),
			log.Err(err))
		c.opts.Sink.Emit(ctx, diag.Event{Type: diag.ConsumerHandlerFailed, Consumer: c.opts.Name, MessageID: e.Data.ID(), Position: pos, Err: err, Time: time.Now()})
		if c.opts.RethrowExceptions {
			return &HandlerError{Position: e.Position, Err: err}
		}
	case !mctx.Acknowledged():
		c.opts.Logger.Warn("journal entry not acknowledged",
			log.Str("position", pos),
			log.Str("message_id", e.Data.ID()))
		c.opts.Sink.Emit(ctx, diag.Event{Type: diag.ConsumerNotAcknowledged, Consumer: c.opts.Name, MessageID: e.Data.ID(), Position: pos, Time: time.Now()})
		if c.opts.RethrowExceptions {
			return &NotAcknowledgedError{Position: e.Position}
		}
	}
	return nil
}

func (c *Consumer) invoke(ctx context.Context, e Entry, mctx *message.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return c.handler.HandleMessage(ctx, e.Data.Clone(), mctx)
}
