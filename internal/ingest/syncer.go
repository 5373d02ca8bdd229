package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/dedup"
	"github.com/sana-health/procsync/internal/procedure"
)

// ErrNoCatalog is returned by Run on a Syncer built without a catalog.
var ErrNoCatalog = errors.New("no catalog configured")

// Store is the part of the procedure store a Syncer writes through.
type Store interface {
	dedup.Finder
	Insert(ctx context.Context, doc *procedure.Document) (int64, error)
	Update(ctx context.Context, ref int64, doc *procedure.Document) error
	// LockKey serializes key with other processes writing the same store.
	LockKey(ctx context.Context, key procedure.Key) (unlock func(), err error)
}

// Config tunes a Syncer.
type Config struct {
	// Concurrency bounds the items processed at once (default 4).
	Concurrency int
	// ItemTimeout bounds each item from fetch to write (default 30s).
	ItemTimeout time.Duration
	// DedupPolicy selects the dedup key (default title_author).
	DedupPolicy dedup.Policy
}

// DefaultConfig returns the default Syncer configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		ItemTimeout: 30 * time.Second,
		DedupPolicy: dedup.PolicyTitleAuthor,
	}
}

// Syncer runs sync passes and local imports into a store.
// A Syncer is safe for concurrent use; items with the same dedup key are
// resolved and written one at a time, across processes too when the store
// backend supports key locks.
type Syncer struct {
	catalog  catalog.Catalog
	store    Store
	preamble *procedure.Preamble
	resolver *dedup.Resolver
	locks    *dedup.KeyLock
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	stateMu sync.Mutex
	state   State
	owner   string // RunID of the pass that owns state
}

// New creates a Syncer. cat may be nil for a Syncer that only imports
// local files and defaults.
//
// Example:
//
//	pre, err := procedure.LoadPreamble(cfg.Sync.PreamblePath)
//	if err != nil {
//	    return err
//	}
//	syncer := ingest.New(catalog.NewDir("/sdcard/procedures"), st, pre, ingest.DefaultConfig(), logger)
//	result, err := syncer.Run(ctx)
func New(cat catalog.Catalog, st Store, pre *procedure.Preamble, cfg Config, logger zerolog.Logger) *Syncer {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	if cfg.DedupPolicy == "" {
		cfg.DedupPolicy = def.DedupPolicy
	}

	s := &Syncer{
		catalog:  cat,
		store:    st,
		preamble: pre,
		resolver: dedup.NewResolver(st, cfg.DedupPolicy),
		locks:    dedup.NewKeyLock(),
		cfg:      cfg,
		log:      logger.With().Str("component", "ingest").Logger(),
		now:      time.Now,
	}
	s.state = StateIdle
	return s
}

// State returns the state of the most recently started pass. Passes may
// overlap; an older pass still running never overwrites the state of a newer
// one. Each pass's own outcome is in its Result.State.
func (s *Syncer) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// setState moves res to st and publishes st if res owns the Syncer state.
func (s *Syncer) setState(res *Result, st State) {
	res.State = st
	s.stateMu.Lock()
	if s.owner == res.RunID {
		s.state = st
	}
	s.stateMu.Unlock()
}

// source is one item to run through the pipeline.
type source struct {
	id    string
	fetch func(ctx context.Context) (string, error)
}

// Run performs one sync pass against the catalog.
//
// A listing failure aborts the pass before any write and is returned.
// Item failures are recorded in the result and never abort the pass.
// Canceling ctx stops items that have not started; items already in flight
// finish or fail within ItemTimeout. The error is non-nil only when the
// pass was aborted.
func (s *Syncer) Run(ctx context.Context) (*Result, error) {
	res, log := s.begin()
	log.Info().Msg("sync pass started")

	if s.catalog == nil {
		s.finish(res, StateAborted)
		return res, ErrNoCatalog
	}

	s.setState(res, StateFetchingCatalog)
	descs, err := s.catalog.List(ctx)
	if err != nil {
		s.finish(res, StateAborted)
		log.Error().Err(err).Str("kind", string(KindOf(err))).Msg("catalog listing failed, aborting pass")
		return res, fmt.Errorf("list catalog: %w", err)
	}

	sources := make([]source, len(descs))
	for i, d := range descs {
		id := d.ID
		sources[i] = source{id: id, fetch: func(ctx context.Context) (string, error) {
			return s.catalog.Fetch(ctx, id)
		}}
	}
	return s.runSources(ctx, res, log, sources)
}

// ImportFiles imports local procedure files as one pass. Unlike Run there
// is no listing step, so the pass can only abort through ctx.
func (s *Syncer) ImportFiles(ctx context.Context, paths []string) (*Result, error) {
	res, log := s.begin()
	log.Info().Int("files", len(paths)).Msg("file import started")

	sources := make([]source, len(paths))
	for i, p := range paths {
		path := p
		sources[i] = source{id: path, fetch: func(context.Context) (string, error) {
			return readFile(path)
		}}
	}
	return s.runSources(ctx, res, log, sources)
}

// LoadDefaults imports the procedures bundled with the binary.
func (s *Syncer) LoadDefaults(ctx context.Context) (*Result, error) {
	defaults, err := procedure.DefaultProcedures()
	if err != nil {
		return nil, fmt.Errorf("load bundled procedures: %w", err)
	}

	res, log := s.begin()
	log.Info().Int("procedures", len(defaults)).Msg("loading default procedures")

	sources := make([]source, len(defaults))
	for i, d := range defaults {
		body := d.Body
		sources[i] = source{id: d.Name, fetch: func(context.Context) (string, error) {
			return body, nil
		}}
	}
	return s.runSources(ctx, res, log, sources)
}

// ImportFile imports a single local procedure file.
func (s *Syncer) ImportFile(ctx context.Context, path string) (*Item, error) {
	return s.importOne(ctx, source{id: path, fetch: func(context.Context) (string, error) {
		return readFile(path)
	}})
}

// ImportBody imports a procedure body obtained elsewhere; id names it in
// logs and errors.
func (s *Syncer) ImportBody(ctx context.Context, id, body string) (*Item, error) {
	return s.importOne(ctx, source{id: id, fetch: func(context.Context) (string, error) {
		return body, nil
	}})
}

func (s *Syncer) importOne(ctx context.Context, src source) (*Item, error) {
	log := s.log.With().Str("id", src.id).Logger()
	item, ierr := s.process(ctx, src)
	if ierr != nil {
		log.Warn().Err(ierr.Err).Str("stage", string(ierr.Stage)).Str("kind", string(ierr.Kind())).Msg("import failed")
		return nil, ierr
	}
	log.Info().Int64("ref", item.Ref).Stringer("action", item.Action).Msg("procedure imported")
	return item, nil
}

func (s *Syncer) begin() (*Result, zerolog.Logger) {
	res := &Result{RunID: uuid.NewString(), State: StateIdle, StartedAt: s.now()}
	s.stateMu.Lock()
	s.owner = res.RunID
	s.state = StateIdle
	s.stateMu.Unlock()
	return res, s.log.With().Str("run_id", res.RunID).Logger()
}

func (s *Syncer) finish(res *Result, st State) {
	res.Duration = s.now().Sub(res.StartedAt)
	s.setState(res, st)
}

func (s *Syncer) runSources(ctx context.Context, res *Result, log zerolog.Logger, sources []source) (*Result, error) {
	s.setState(res, StatePerItem)
	res.Total = len(sources)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for i := range sources {
		if ctx.Err() != nil {
			mu.Lock()
			res.Skipped += len(sources) - i
			mu.Unlock()
			break
		}

		src := sources[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}

			item, ierr := s.process(ctx, src)

			mu.Lock()
			defer mu.Unlock()
			if ierr != nil {
				res.Failed++
				res.Failures = append(res.Failures, ierr)
				log.Warn().
					Str("id", src.id).
					Str("stage", string(ierr.Stage)).
					Str("kind", string(ierr.Kind())).
					Err(ierr.Err).
					Msg("item failed, continuing")
				return nil
			}
			switch item.Action {
			case dedup.Insert:
				res.Inserted++
			case dedup.UpdateExisting:
				res.Updated++
			}
			res.Items = append(res.Items, *item)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil && res.Skipped > 0 {
		s.finish(res, StateAborted)
		log.Warn().
			Int("written", res.Written()).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("pass canceled")
		return res, fmt.Errorf("pass canceled: %w", ctx.Err())
	}

	s.finish(res, StateCompletedAll)
	log.Info().
		Int("total", res.Total).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("pass complete")
	return res, nil
}

// process runs one item from fetch to write. The item runs detached from
// ctx cancellation and bounded by ItemTimeout, so a started write is never
// interrupted by a canceled pass.
func (s *Syncer) process(ctx context.Context, src source) (*Item, *ItemError) {
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ItemTimeout)
	defer cancel()

	fail := func(stage Stage, err error) (*Item, *ItemError) {
		return nil, &ItemError{ID: src.id, Stage: stage, Err: err}
	}

	body, err := src.fetch(ictx)
	if err != nil {
		return fail(StageFetching, err)
	}

	body, err = s.preamble.Inject(body)
	if err != nil {
		return fail(StageTransforming, err)
	}

	parsed, err := procedure.Parse(body)
	if err != nil {
		return fail(StageParsing, err)
	}
	doc := procedure.NewDocument(parsed, body)
	key := doc.Key()

	lockKey := s.resolver.LockKey(key)
	unlock := s.locks.Lock(lockKey)
	defer unlock()

	if err := ictx.Err(); err != nil {
		return fail(StageResolving, err)
	}
	release, err := s.store.LockKey(ictx, lockKey)
	if err != nil {
		return fail(StageResolving, err)
	}
	defer release()
	decision, err := s.resolver.Resolve(ictx, key)
	if err != nil {
		return fail(StageResolving, err)
	}

	switch decision.Action {
	case dedup.UpdateExisting:
		if err := s.store.Update(ictx, decision.Existing, doc); err != nil {
			return fail(StageWriting, err)
		}
		doc.ID = decision.Existing
	default:
		if _, err := s.store.Insert(ictx, doc); err != nil {
			return fail(StageWriting, err)
		}
	}

	return &Item{
		ID:     src.id,
		Ref:    doc.ID,
		Action: decision.Action,
		Title:  doc.Title,
		Author: doc.Author,
	}, nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), catalog.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
