package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Group.Do] when no member succeeded.
var ErrAllFailed = errors.New("resilience: all members failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group tries interchangeable backends in the order they were added, each
// behind its own [Breaker].
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group. cfg is the template for every member's
// breaker; its Name is replaced by the member name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a member. Add must not be called concurrently with Do.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Do calls fn with each member until one succeeds and returns that member's
// name. Members with an open breaker are skipped. Do stops early once ctx is
// done.
func (g *Group[T]) Do(ctx context.Context, fn func(ctx context.Context, v T) error) (string, error) {
	var errs []error
	for i := range g.members {
		m := &g.members[i]
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := m.breaker.Do(func() error { return fn(ctx, m.value) })
		if err == nil {
			return m.name, nil
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping member with open circuit", "member", m.name)
		} else {
			slog.Warn("member failed, trying next", "member", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: group is empty", ErrAllFailed)
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// States returns each member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}
