// Package dedup decides whether an incoming procedure is new or replaces
// one already in the store.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// Policy selects which fields make two procedures the same.
type Policy string

const (
	// PolicyTitleAuthor matches on title and author.
	PolicyTitleAuthor Policy = "title_author"
	// PolicyTitle matches on title alone.
	PolicyTitle Policy = "title"
)

// ParsePolicy validates a configured policy name. Empty means the default.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyTitleAuthor:
		return PolicyTitleAuthor, nil
	case PolicyTitle:
		return PolicyTitle, nil
	}
	return "", fmt.Errorf("unknown dedup policy %q (want %q or %q)", s, PolicyTitleAuthor, PolicyTitle)
}

// Action is the outcome of a resolution.
type Action int

const (
	Insert Action = iota
	UpdateExisting
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case UpdateExisting:
		return "update"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Decision tells the writer what to do with a document.
type Decision struct {
	Action   Action
	Existing int64 // store reference, set for UpdateExisting
}

// Finder is the store query a Resolver needs.
type Finder interface {
	FindFirst(ctx context.Context, f store.Filter) (*procedure.Document, error)
}

// Resolver looks up existing procedures by dedup key.
type Resolver struct {
	finder Finder
	policy Policy
}

// NewResolver returns a resolver using policy (the default when empty).
func NewResolver(f Finder, policy Policy) *Resolver {
	if policy == "" {
		policy = PolicyTitleAuthor
	}
	return &Resolver{finder: f, policy: policy}
}

// Policy returns the resolver's policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns UpdateExisting with the lowest matching reference, or
// Insert when nothing matches. Store failures are returned as is.
func (r *Resolver) Resolve(ctx context.Context, key procedure.Key) (Decision, error) {
	filter := store.Filter{Title: key.Title}
	if r.policy == PolicyTitleAuthor {
		author := key.Author
		filter.Author = &author
	}

	doc, err := r.finder.FindFirst(ctx, filter)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Action: Insert}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Decision{Action: UpdateExisting, Existing: doc.ID}, nil
}

// LockKey maps a procedure key onto the lock key for policy, so that keys
// the resolver would treat as equal share a lock.
func (r *Resolver) LockKey(key procedure.Key) procedure.Key {
	if r.policy == PolicyTitle {
		return procedure.Key{Title: key.Title}
	}
	return key
}

// KeyLock serializes work per dedup key. Entries are dropped once no
// goroutine holds or waits for them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[procedure.Key]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock returns an empty KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[procedure.Key]*keyEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *KeyLock) Lock(key procedure.Key) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
