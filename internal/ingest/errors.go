package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// Kind classifies an error for logs and results.
type Kind string

const (
	KindRemoteUnavailable Kind = "remote_unavailable"
	KindNotFound          Kind = "not_found"
	KindParse             Kind = "parse_error"
	KindStorage           Kind = "storage_error"
	KindTimeout           Kind = "timeout"
	KindCanceled          Kind = "canceled"
	KindUnknown           Kind = "unknown"
)

// KindOf maps err onto its Kind. A deadline wins over the error that
// carried it, so a fetch that timed out is reported as a timeout.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, catalog.ErrNotFound):
		return KindNotFound
	case errors.Is(err, catalog.ErrRemoteUnavailable):
		return KindRemoteUnavailable
	case errors.Is(err, procedure.ErrParse), errors.Is(err, store.ErrInvalid):
		return KindParse
	case errors.Is(err, store.ErrStorage):
		return KindStorage
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	}
	return KindUnknown
}

// ItemError is the failure of one item at one stage of the pipeline.
type ItemError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Kind returns the kind of the underlying error.
func (e *ItemError) Kind() Kind { return KindOf(e.Err) }
