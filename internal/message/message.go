package message

// Message is an immutable-by-convention bus message: headers plus opaque content.
type Message struct {
	Headers Headers
	Content []byte
}

// New builds a message with the given name and content.
func New(name string, content []byte) *Message {
	m := &Message{Headers: Headers{}, Content: content}
	if name != "" {
		m.Headers.Set(HeaderMessageName, name)
	}
	return m
}

// ID returns the MessageId header.
func (m Message) ID() string { return m.Headers.MessageID() }

// Clone returns a deep copy so that stored or queued values cannot be mutated
// through a caller's reference.
func (m Message) Clone() Message {
	out := Message{Headers: m.Headers.Clone()}
	if m.Content != nil {
		out.Content = append([]byte(nil), m.Content...)
	}
	return out
}

// Principal identifies the sender of a message.
type Principal struct {
	Name   string            `json:"name"`
	Roles  []string          `json:"roles,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`
}

// IsInRole reports whether p carries role. A nil principal has no roles.
func (p *Principal) IsInRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
