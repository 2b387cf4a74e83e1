// Package runtime opens the configured storage backend and wires it into a
// queue Service and a Journal with logging, tracing and metrics attached.
//
// Example:
//
//	cfg := config.Default()
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close(context.Background())
//	_, _ = rt.Journal().Append(ctx, message.New("orders.created", body), journal.Published)
package runtime
