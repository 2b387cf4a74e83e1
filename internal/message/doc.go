// Package message defines the message value that flows through queues and the
// journal, the sending principal, and the per-delivery Context handed to
// handlers.
//
// A Message is a header map plus opaque content. The bus core never interprets
// content; it only reads a handful of well-known headers (id, name, topic,
// origination, destination, related-to and the sent/received/published
// timestamps) for deduplication and journal filtering.
//
// Handlers receive an explicit *Context. The sender's principal travels on
// that context, and a handler signals success by calling Acknowledge.
package message
