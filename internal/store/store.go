package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/procedure"
)

// ChangeOp names the kind of write a ChangeEvent reports.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	OpClear  ChangeOp = "clear"
)

// ChangeEvent describes one successful write.
type ChangeEvent struct {
	Op     ChangeOp  `json:"op"`
	Ref    int64     `json:"ref,omitempty"`
	GUID   string    `json:"guid,omitempty"`
	Title  string    `json:"title,omitempty"`
	Author string    `json:"author,omitempty"`
	Count  int64     `json:"count,omitempty"` // rows removed by OpClear
	At     time.Time `json:"at"`
}

// Listener receives change events. It is called synchronously on the
// writing goroutine and must not block.
type Listener func(ChangeEvent)

// Config selects and configures a backend for Open.
type Config struct {
	Driver   string // "sqlite" (default) or "postgres"
	Path     string // sqlite database file
	DSN      string // postgres connection string
	MaxConns int32  // postgres pool size (0 = pgx default)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Store is the procedure store. It owns timestamps, GUID defaults and
// change notification; persistence is delegated to a Backend.
// A Store is safe for concurrent use.
type Store struct {
	backend Backend
	now     func() time.Time
	log     zerolog.Logger

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New wraps an already-initialized backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend:   b,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:       zerolog.Nop(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the backend named by cfg.Driver, creates its schema and
// returns a Store over it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		b, err = OpenSQLite(cfg.Path)
	case "postgres":
		b, err = OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if err := b.InitSchema(ctx); err != nil {
		_ = b.Close()
		return nil, &StorageError{Op: "init schema", Err: err}
	}
	return New(b, opts...), nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// LockKey serializes work on key with other processes sharing the backend.
// Backends that are not KeyLockers are private to this process, so the
// returned function is a no-op for them.
func (s *Store) LockKey(ctx context.Context, key procedure.Key) (unlock func(), err error) {
	kl, ok := s.backend.(KeyLocker)
	if !ok {
		return func() {}, nil
	}
	unlock, err = kl.LockKey(ctx, key.Title+"\x00"+key.Author)
	if err != nil {
		return nil, &StorageError{Op: "lock", Err: err}
	}
	return unlock, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Subscribe registers fn for change events and returns a function that
// removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(ev ChangeEvent) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Insert stores doc as a new procedure. On success doc.ID, doc.GUID and
// both timestamps are set and listeners are notified.
func (s *Store) Insert(ctx context.Context, doc *procedure.Document) (int64, error) {
	if err := doc.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	doc.SetDefaults()

	now := s.now()
	doc.CreatedAt = now
	doc.ModifiedAt = now

	id, err := s.backend.Insert(ctx, doc)
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	doc.ID = id

	s.log.Debug().Int64("ref", id).Str("title", doc.Title).Msg("procedure inserted")
	s.notify(ChangeEvent{Op: OpInsert, Ref: id, GUID: doc.GUID, Title: doc.Title, Author: doc.Author, At: now})
	return id, nil
}

// Update overwrites the body, author and (when non-empty) GUID of the
// procedure at ref and bumps its modification time. The creation time is
// left untouched. On success doc is refreshed from the stored row when it
// can be read back; otherwise doc keeps the written fields and ref.
func (s *Store) Update(ctx context.Context, ref int64, doc *procedure.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	now := s.now()
	doc.ModifiedAt = now

	ok, err := s.backend.Update(ctx, ref, doc)
	if err != nil {
		return &StorageError{Op: "update", Err: err}
	}
	if !ok {
		return fmt.Errorf("update %d: %w", ref, ErrNotFound)
	}

	// The write is committed; a failed re-read only leaves doc less complete.
	doc.ID = ref
	if stored, err := s.backend.Get(ctx, ref); err != nil {
		s.log.Warn().Err(err).Int64("ref", ref).Msg("re-read after update failed")
	} else {
		*doc = *stored
	}

	s.log.Debug().Int64("ref", ref).Str("title", doc.Title).Msg("procedure updated")
	s.notify(ChangeEvent{Op: OpUpdate, Ref: ref, GUID: doc.GUID, Title: doc.Title, Author: doc.Author, At: now})
	return nil
}

// Get returns the procedure at ref.
func (s *Store) Get(ctx context.Context, ref int64) (*procedure.Document, error) {
	doc, err := s.backend.Get(ctx, ref)
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return doc, nil
}

// GetByGUID returns the procedure carrying guid.
func (s *Store) GetByGUID(ctx context.Context, guid string) (*procedure.Document, error) {
	doc, err := s.backend.GetByGUID(ctx, guid)
	if err != nil {
		return nil, s.wrap("get by guid", err)
	}
	return doc, nil
}

// FindFirst returns the lowest-referenced procedure matching f.
func (s *Store) FindFirst(ctx context.Context, f Filter) (*procedure.Document, error) {
	doc, err := s.backend.FindFirst(ctx, f)
	if err != nil {
		return nil, s.wrap("find", err)
	}
	return doc, nil
}

// List returns stored procedures, most recently modified first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*procedure.Document, error) {
	docs, err := s.backend.List(ctx, f)
	if err != nil {
		return nil, s.wrap("list", err)
	}
	return docs, nil
}

// Count returns the number of stored procedures.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

// Delete removes the procedure at ref.
func (s *Store) Delete(ctx context.Context, ref int64) error {
	doc, err := s.backend.Get(ctx, ref)
	if err != nil {
		return s.wrap("delete", err)
	}

	ok, err := s.backend.Delete(ctx, ref)
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	if !ok {
		return fmt.Errorf("delete %d: %w", ref, ErrNotFound)
	}

	s.log.Debug().Int64("ref", ref).Msg("procedure deleted")
	s.notify(ChangeEvent{Op: OpDelete, Ref: ref, GUID: doc.GUID, Title: doc.Title, Author: doc.Author, At: s.now()})
	return nil
}

// Clear removes every stored procedure and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	n, err := s.backend.Clear(ctx)
	if err != nil {
		return 0, &StorageError{Op: "clear", Err: err}
	}

	s.log.Info().Int64("removed", n).Msg("procedure store cleared")
	s.notify(ChangeEvent{Op: OpClear, Count: n, At: s.now()})
	return n, nil
}

// wrap keeps ErrNotFound recognizable and turns anything else into a
// StorageError.
func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StorageError{Op: op, Err: err}
}
