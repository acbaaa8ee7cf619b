package runs

import (
	"context"
	"strings"
)

// NewStore returns nil when no database is configured; the manager then
// runs purely in memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
