package handling

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/rzbill/flobus/internal/message"
)

// Specification selects messages.
type Specification interface {
	IsSatisfiedBy(msg message.Message) bool
}

// SpecificationFunc adapts a function to Specification.
type SpecificationFunc func(msg message.Message) bool

func (f SpecificationFunc) IsSatisfiedBy(msg message.Message) bool { return f(msg) }

// Any matches every message.
var Any Specification = SpecificationFunc(func(message.Message) bool { return true })

// MessageNamePattern matches messages whose MessageName matches a regexp.
type MessageNamePattern struct {
	re *regexp.Regexp
}

// NewMessageNamePattern compiles pattern.
func NewMessageNamePattern(pattern string) (*MessageNamePattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("handling: message name pattern %q: %w", pattern, err)
	}
	return &MessageNamePattern{re: re}, nil
}

// MustMessageNamePattern is NewMessageNamePattern that panics on error.
func MustMessageNamePattern(pattern string) *MessageNamePattern {
	p, err := NewMessageNamePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *MessageNamePattern) IsSatisfiedBy(msg message.Message) bool {
	return p.re.MatchString(msg.Headers.MessageName())
}

func (p *MessageNamePattern) String() string { return p.re.String() }

// Rule pairs a specification with the handler it selects.
type Rule struct {
	Specification Specification
	Handler       message.Handler
}

// Rules is an ordered rule set. It is itself a message.Handler and is safe
// for concurrent use.
type Rules struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRules creates a rule set.
func NewRules(rules ...Rule) *Rules {
	return &Rules{rules: append([]Rule(nil), rules...)}
}

// Add appends a rule. A nil specification matches everything.
func (r *Rules) Add(spec Specification, h message.Handler) {
	if spec == nil {
		spec = Any
	}
	r.mu.Lock()
	r.rules = append(r.rules, Rule{Specification: spec, Handler: h})
	r.mu.Unlock()
}

// Len returns the number of rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// HandleMessage runs every matching handler in registration order with the
// same delivery context and stops at the first error. A message no rule
// matches is acknowledged.
func (r *Rules) HandleMessage(ctx context.Context, msg message.Message, mctx *message.Context) error {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	matched := false
	for _, rule := range rules {
		if rule.Specification != nil && !rule.Specification.IsSatisfiedBy(msg) {
			continue
		}
		matched = true
		if err := invoke(ctx, rule.Handler, msg, mctx); err != nil {
			return err
		}
	}
	if !matched {
		mctx.Acknowledge()
	}
	return nil
}

func invoke(ctx context.Context, h message.Handler, msg message.Message, mctx *message.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handling: handler panicked: %v", rec)
		}
	}()
	return h.HandleMessage(ctx, msg, mctx)
}
