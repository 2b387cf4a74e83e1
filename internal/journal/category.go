package journal

import (
	"fmt"
	"strings"

	"github.com/rzbill/flobus/internal/message"
)

// Category classifies a journal entry.
type Category int

const (
	Sent Category = iota + 1
	Received
	Published
)

func (c Category) String() string {
	switch c {
	case Sent:
		return "Sent"
	case Received:
		return "Received"
	case Published:
		return "Published"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool { return c >= Sent && c <= Published }

// timestampHeader is the header stamped on append when missing.
func (c Category) timestampHeader() string {
	switch c {
	case Received:
		return message.HeaderReceived
	case Published:
		return message.HeaderPublished
	default:
		return message.HeaderSent
	}
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent":
		return Sent, nil
	case "received":
		return Received, nil
	case "published":
		return Published, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}
