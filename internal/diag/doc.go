// Package diag carries diagnostic events out of the queue and journal.
//
// Components receive a Sink at construction and call Emit at each state
// transition (enqueued, acknowledged, retry scheduled, abandoned, storage
// failures and so on). Sinks fan out to logs (LogSink), OpenTelemetry metrics
// (OTelSink) and Prometheus counters (PrometheusSink); Multi combines them.
//
//	sink := diag.Multi(diag.NewLogSink(logger), promSink)
//	q, _ := queue.NewMessageQueue("orders", store, handler, opts, queue.WithSink(sink))
package diag
