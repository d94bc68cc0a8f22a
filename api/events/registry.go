package events

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Event is what a listener receives: the record plus the name it fired under.
type Event struct {
	// Name is the dispatch name, e.g. "wu.connected", "connected" or "event".
	Name     string
	Category string
	Action   string
	Key      string
	Raw      RawEvent
}

// Listener receives events for a subscribed pattern.
type Listener func(Event)

// Subscription identifies one registered listener.
type Subscription struct {
	ID      uuid.UUID
	Pattern string
}

// statusPattern is the pattern recorded on status subscriptions.
const statusPattern = "status"

// ErrInvalidPattern is returned by On for patterns the matcher cannot serve.
var ErrInvalidPattern = errors.New("invalid event pattern")

type listenerEntry struct {
	id      uuid.UUID
	pattern string
	// prefix is set for wildcard patterns: "wu." for "wu.*", "" for "*".
	prefix string
	fn     Listener
}

type statusEntry struct {
	id uuid.UUID
	fn StatusListener
}

// registry holds event and status listeners. Exact patterns are looked up by
// name; wildcard patterns are scanned in insertion order.
type registry struct {
	mu        sync.RWMutex
	exact     map[string][]listenerEntry
	wildcards []listenerEntry
	status    []statusEntry

	// onPanic is called with the recovered value of a panicking listener.
	onPanic func(pattern string, recovered any)
}

func newRegistry() *registry {
	return &registry{
		exact: make(map[string][]listenerEntry),
	}
}

// validatePattern reports whether pattern is a wildcard and, if so, the name
// prefix it matches.
func validatePattern(pattern string) (prefix string, wildcard bool, err error) {
	switch {
	case pattern == "":
		return "", false, errors.Wrap(ErrInvalidPattern, "pattern is empty")
	case pattern == "*":
		return "", true, nil
	case strings.HasSuffix(pattern, ".*"):
		prefix = strings.TrimSuffix(pattern, "*")
		if prefix == "." || strings.Contains(prefix, "*") {
			return "", false, errors.Wrapf(ErrInvalidPattern, "%q", pattern)
		}
		return prefix, true, nil
	case strings.Contains(pattern, "*"):
		return "", false, errors.Wrapf(ErrInvalidPattern, "%q: wildcard must be a trailing \".*\"", pattern)
	default:
		return "", false, nil
	}
}

func (r *registry) on(pattern string, fn Listener) (Subscription, error) {
	if fn == nil {
		return Subscription{}, errors.New("listener is required")
	}

	prefix, wildcard, err := validatePattern(pattern)
	if err != nil {
		return Subscription{}, err
	}

	entry := listenerEntry{id: uuid.New(), pattern: pattern, prefix: prefix, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()

	if wildcard {
		r.wildcards = append(r.wildcards, entry)
	} else {
		r.exact[pattern] = append(r.exact[pattern], entry)
	}

	return Subscription{ID: entry.id, Pattern: pattern}, nil
}

func (r *registry) onStatus(fn StatusListener) Subscription {
	entry := statusEntry{id: uuid.New(), fn: fn}

	r.mu.Lock()
	r.status = append(r.status, entry)
	r.mu.Unlock()

	return Subscription{ID: entry.id, Pattern: statusPattern}
}

// off removes the listener identified by sub and reports whether it existed.
func (r *registry) off(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.Pattern == statusPattern {
		for i, entry := range r.status {
			if entry.id == sub.ID {
				r.status = append(r.status[:i:i], r.status[i+1:]...)
				return true
			}
		}
		return false
	}

	for i, entry := range r.wildcards {
		if entry.id == sub.ID {
			r.wildcards = append(r.wildcards[:i:i], r.wildcards[i+1:]...)
			return true
		}
	}

	entries := r.exact[sub.Pattern]
	for i, entry := range entries {
		if entry.id == sub.ID {
			if len(entries) == 1 {
				delete(r.exact, sub.Pattern)
			} else {
				r.exact[sub.Pattern] = append(entries[:i:i], entries[i+1:]...)
			}
			return true
		}
	}

	return false
}

// offPattern removes every listener registered with exactly pattern.
func (r *registry) offPattern(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pattern == statusPattern {
		n := len(r.status)
		r.status = nil
		return n
	}

	removed := len(r.exact[pattern])
	delete(r.exact, pattern)

	kept := r.wildcards[:0:0]
	for _, entry := range r.wildcards {
		if entry.pattern == pattern {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	r.wildcards = kept

	return removed
}

// listeners returns the listeners for name: exact matches first, then
// wildcards, each in insertion order.
func (r *registry) listeners(name string) []listenerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]listenerEntry, 0, len(r.exact[name])+len(r.wildcards))
	matched = append(matched, r.exact[name]...)
	for _, entry := range r.wildcards {
		if strings.HasPrefix(name, entry.prefix) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// dispatch invokes the listeners for ev.Name outside the lock, so a listener
// may subscribe, unsubscribe or close the client.
func (r *registry) dispatch(ev Event) int {
	entries := r.listeners(ev.Name)
	for _, entry := range entries {
		r.invoke(entry, ev)
	}
	return len(entries)
}

func (r *registry) invoke(entry listenerEntry, ev Event) {
	defer func() {
		if recovered := recover(); recovered != nil && r.onPanic != nil {
			r.onPanic(entry.pattern, recovered)
		}
	}()

	entry.fn(ev)
}

func (r *registry) dispatchStatus(s Status) {
	r.mu.RLock()
	entries := append([]statusEntry(nil), r.status...)
	r.mu.RUnlock()

	for _, entry := range entries {
		invokeStatus(entry.fn, s)
	}
}

// invokeStatus swallows listener panics; reporting them on the status
// channel again could loop.
func invokeStatus(fn StatusListener, s Status) {
	defer func() {
		_ = recover()
	}()

	fn(s)
}

func panicError(pattern string, recovered any) error {
	return errors.Newf("listener for %q panicked: %v", pattern, recovered)
}
