package bus

import (
	"sort"
	"sync"
)

// subscription is one registered pattern and its handlers.
type subscription struct {
	pattern  string
	matcher  *Matcher // nil for literal patterns
	handlers map[Handler]struct{}
}

// Registry maps topic patterns to handler sets.
//
// It is the single source of truth for what the bus is subscribed to.
// Literal patterns and wildcard patterns live in two disjoint maps: literal
// lookups are exact, wildcard lookups scan every compiled matcher.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu       sync.RWMutex
	literal  map[string]*subscription
	wildcard map[string]*subscription
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		literal:  make(map[string]*subscription),
		wildcard: make(map[string]*subscription),
	}
}

// Subscribe registers handler under pattern.
//
// Parameters:
//   - pattern: literal topic or wildcard pattern
//   - handler: comparable Handler (re-adding the same one is a no-op)
//
// Returns:
//   - bool: true when pattern was previously unknown and needs a wire subscribe
//   - error: ErrConfiguration for a malformed pattern or unusable handler
func (r *Registry) Subscribe(pattern string, handler Handler) (bool, error) {
	if err := ValidatePattern(pattern); err != nil {
		return false, err
	}
	if err := checkHandler(handler); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.literal
	wildcard := IsWildcard(pattern)
	if wildcard {
		table = r.wildcard
	}

	if sub, ok := table[pattern]; ok {
		sub.handlers[handler] = struct{}{}
		return false, nil
	}

	sub := &subscription{
		pattern:  pattern,
		handlers: map[Handler]struct{}{handler: {}},
	}
	if wildcard {
		m, err := CompileMatcher(pattern)
		if err != nil {
			return false, err
		}
		sub.matcher = m
	}
	table[pattern] = sub

	return true, nil
}

// Unsubscribe removes handler from pattern.
//
// With a nil handler the whole entry is removed. Otherwise the entry is removed
// only once its handler set is empty. Unknown patterns are a no-op.
//
// Returns:
//   - bool: true when the entry was deleted and needs a wire unsubscribe
func (r *Registry) Unsubscribe(pattern string, handler Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.literal
	if IsWildcard(pattern) {
		table = r.wildcard
	}

	sub, ok := table[pattern]
	if !ok {
		return false
	}

	if handler != nil && isComparable(handler) {
		delete(sub.handlers, handler)
	}
	if handler == nil || len(sub.handlers) == 0 {
		delete(table, pattern)
		return true
	}

	return false
}

// AllPatterns returns every registered pattern, literal and wildcard, sorted.
// Used to replay subscriptions after a reconnect.
func (r *Registry) AllPatterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, 0, len(r.literal)+len(r.wildcard))
	for p := range r.literal {
		patterns = append(patterns, p)
	}
	for p := range r.wildcard {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// Topics returns the literal patterns only, sorted.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.literal))
	for p := range r.literal {
		topics = append(topics, p)
	}
	sort.Strings(topics)
	return topics
}

// Match returns the handlers that should receive a message on topic.
//
// The literal entry for topic (if any) and every accepting wildcard entry are
// both included; they are independent subscriptions, so a handler registered
// under two matching patterns appears twice.
func (r *Registry) Match(topic string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handlers []Handler
	for _, sub := range r.wildcard {
		if sub.matcher.Matches(topic) {
			for h := range sub.handlers {
				handlers = append(handlers, h)
			}
		}
	}
	if sub, ok := r.literal[topic]; ok {
		for h := range sub.handlers {
			handlers = append(handlers, h)
		}
	}
	return handlers
}

// HandlerCount returns the number of handlers registered under pattern.
func (r *Registry) HandlerCount(pattern string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sub, ok := r.literal[pattern]; ok {
		return len(sub.handlers)
	}
	if sub, ok := r.wildcard[pattern]; ok {
		return len(sub.handlers)
	}
	return 0
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.literal) + len(r.wildcard)
}

// Clear removes every entry. Bus.Stop calls it once the supervisor has exited.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literal = make(map[string]*subscription)
	r.wildcard = make(map[string]*subscription)
}
