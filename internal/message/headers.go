package message

import (
	"strings"
	"time"
)

// Well-known header names.
const (
	HeaderMessageID   = "Flobus-MessageId"
	HeaderMessageName = "Flobus-MessageName"
	HeaderTopic       = "Flobus-Topic"
	HeaderOrigination = "Flobus-Origination"
	HeaderDestination = "Flobus-Destination"
	HeaderRelatedTo   = "Flobus-RelatedTo"
	HeaderReplyTo     = "Flobus-ReplyTo"
	HeaderContentType = "Content-Type"
	HeaderSent        = "Flobus-Sent"
	HeaderReceived    = "Flobus-Received"
	HeaderPublished   = "Flobus-Published"
)

// Headers holds message headers. Keys are case-insensitive on lookup.
type Headers map[string]string

// Get returns the value for name, matching case-insensitively.
func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Set stores value under name, replacing any case-variant of the same key.
func (h Headers) Set(name, value string) {
	for k := range h {
		if k != name && strings.EqualFold(k, name) {
			delete(h, k)
		}
	}
	h[name] = value
}

// Clone returns a copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func (h Headers) MessageID() string   { return h.Get(HeaderMessageID) }
func (h Headers) MessageName() string { return h.Get(HeaderMessageName) }
func (h Headers) Topic() string       { return h.Get(HeaderTopic) }
func (h Headers) Origination() string { return h.Get(HeaderOrigination) }
func (h Headers) Destination() string { return h.Get(HeaderDestination) }
func (h Headers) RelatedTo() string   { return h.Get(HeaderRelatedTo) }
func (h Headers) ContentType() string { return h.Get(HeaderContentType) }

// Time parses an RFC3339 timestamp header. The zero time is returned when the
// header is absent or malformed.
func (h Headers) Time(name string) time.Time {
	v := h.Get(name)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetTime formats t as RFC3339 with nanoseconds in UTC.
func (h Headers) SetTime(name string, t time.Time) {
	h.Set(name, t.UTC().Format(time.RFC3339Nano))
}
