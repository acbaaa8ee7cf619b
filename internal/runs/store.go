package runs

import (
	"context"
	"errors"
)

var ErrStoreNotFound = errors.New("run not found in store")

type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
