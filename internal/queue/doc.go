// Package queue implements durable, at-least-once point-to-point delivery.
//
// # Overview
//
// A MessageQueue owns a bounded worker pool for one named queue. Enqueue
// persists the message through a Store and posts it to the pool. Each
// delivery attempt invokes the listener with a fresh *message.Context:
//
//	Enqueued -> Attempting -> Acknowledged            (terminal)
//	                       -> RetryScheduled -> Attempting
//	                       -> Abandoned               (terminal, MaxAttempts reached)
//
// A message is acknowledged when the listener returns nil and either called
// Acknowledge or the queue runs with AutoAcknowledge. Errors and panics from
// the listener are never returned to the enqueuer; they drive retries.
//
// Init recovers messages the Store still reports as pending (a previous
// process died before they reached a terminal state) and posts them ahead of
// any new traffic.
//
// # Shutdown
//
// Close stops the workers, cancels the listener context and waits for drain.
// A retry whose delay has not elapsed when Close is called is dropped; the
// message stays pending in the Store and is recovered by the next Init.
//
// Service is the registry of named queues for one bus instance.
//
//	svc := queue.NewService(provider, queue.WithLogger(logger))
//	q, _ := svc.CreateQueue(ctx, "orders", handler, queue.Options{MaxAttempts: 5})
//	_ = svc.EnqueueMessage(ctx, "orders", msg, principal)
//	_ = svc.Close(ctx)
package queue
