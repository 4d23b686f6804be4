package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule maps a glob over the command string to a canned result.
type Rule struct {
	Pattern string
	Result  Result
}

// Canned answers commands from an ordered rule list, falling back to
// another handler when nothing matches. Rules can be swapped while the
// server is running.
type Canned struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback Handler
}

// NewCanned validates rules and returns a Canned handler.
func NewCanned(rules []Rule, fallback Handler) (*Canned, error) {
	if fallback == nil {
		fallback = Echo()
	}
	c := &Canned{fallback: fallback}
	if err := c.SetRules(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRules replaces the rule list. Invalid patterns leave the old list in
// place.
func (c *Canned) SetRules(rules []Rule) error {
	for i, r := range rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("rule %d: invalid pattern %q", i, r.Pattern)
		}
	}

	c.mu.Lock()
	c.rules = append([]Rule(nil), rules...)
	c.mu.Unlock()
	return nil
}

// Handle returns the result of the first rule whose pattern matches cmd.
func (c *Canned) Handle(ctx context.Context, cmd string) (Result, error) {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	trimmed := strings.TrimSpace(cmd)
	for _, r := range rules {
		ok, err := doublestar.Match(r.Pattern, trimmed)
		if err != nil {
			return Result{}, fmt.Errorf("match %q: %w", r.Pattern, err)
		}
		if ok {
			slog.Debug("command matched rule",
				slog.String("command", trimmed),
				slog.String("pattern", r.Pattern),
			)
			return r.Result, nil
		}
	}
	return c.fallback.Handle(ctx, cmd)
}

var _ Handler = (*Canned)(nil)
