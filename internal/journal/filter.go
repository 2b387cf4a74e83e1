package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter is a conjunctive predicate over journal entries. Empty fields impose
// no constraint.
type Filter struct {
	Topics     []string   `json:"topics,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	// MessageName matches as a case-insensitive substring.
	MessageName string `json:"messageName,omitempty"`
	// From is inclusive, To is exclusive; both compare against Entry.Timestamp.
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
	Origination string    `json:"origination,omitempty"`
	Destination string    `json:"destination,omitempty"`
	RelatedTo   string    `json:"relatedTo,omitempty"`
	// Expression is an optional CEL boolean expression. Variables: category,
	// topic, name, headers, timestamp_ms, size, text.
	Expression string `json:"expression,omitempty"`
}

// Matcher is a compiled Filter. The zero value and a nil *Matcher match
// everything.
type Matcher struct {
	topics      map[string]struct{}
	categories  map[Category]struct{}
	name        string
	from, to    time.Time
	origination string
	destination string
	relatedTo   string
	prog        cel.Program
}

// NewMatcher compiles f. A nil filter yields a match-all matcher.
func NewMatcher(f *Filter) (*Matcher, error) {
	m := &Matcher{}
	if f == nil {
		return m, nil
	}
	if len(f.Topics) > 0 {
		m.topics = make(map[string]struct{}, len(f.Topics))
		for _, t := range f.Topics {
			m.topics[t] = struct{}{}
		}
	}
	if len(f.Categories) > 0 {
		m.categories = make(map[Category]struct{}, len(f.Categories))
		for _, c := range f.Categories {
			if !c.Valid() {
				return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, fmt.Errorf("%w: %d", ErrInvalidCategory, int(c)))
			}
			m.categories[c] = struct{}{}
		}
	}
	m.name = strings.ToLower(f.MessageName)
	m.from, m.to = f.From, f.To
	m.origination, m.destination, m.relatedTo = f.Origination, f.Destination, f.RelatedTo
	if expr := strings.TrimSpace(f.Expression); expr != "" {
		prog, err := compileExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
		m.prog = prog
	}
	return m, nil
}

// Match reports whether e satisfies every constraint.
func (m *Matcher) Match(e Entry) bool {
	if m == nil {
		return true
	}
	h := e.Data.Headers
	if m.topics != nil {
		if _, ok := m.topics[h.Topic()]; !ok {
			return false
		}
	}
	if m.categories != nil {
		if _, ok := m.categories[e.Category]; !ok {
			return false
		}
	}
	if m.name != "" && !strings.Contains(strings.ToLower(h.MessageName()), m.name) {
		return false
	}
	if !m.from.IsZero() && e.Timestamp.Before(m.from) {
		return false
	}
	if !m.to.IsZero() && !e.Timestamp.Before(m.to) {
		return false
	}
	if m.origination != "" && h.Origination() != m.origination {
		return false
	}
	if m.destination != "" && h.Destination() != m.destination {
		return false
	}
	if m.relatedTo != "" && h.RelatedTo() != m.relatedTo {
		return false
	}
	if m.prog != nil {
		return m.eval(e)
	}
	return true
}

func compileExpression(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("category", cel.StringType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("timestamp_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must be boolean, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

func (m *Matcher) eval(e Entry) bool {
	headers := make(map[string]string, len(e.Data.Headers))
	for k, v := range e.Data.Headers {
		headers[k] = v
	}
	out, _, err := m.prog.Eval(map[string]any{
		"category":     e.Category.String(),
		"topic":        e.Data.Headers.Topic(),
		"name":         e.Data.Headers.MessageName(),
		"headers":      headers,
		"timestamp_ms": e.Timestamp.UnixMilli(),
		"size":         int64(len(e.Data.Content)),
		"text":         string(e.Data.Content),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
