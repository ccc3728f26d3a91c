package testsupport

import (
	"testing"

	"sequentier/internal/config"
	"sequentier/internal/queue"
)

// NewStore publishes cfg through a static cell and returns a store reading it.
func NewStore(t testing.TB, cfg *config.Config, opts ...queue.Option) (*config.Cell, *queue.Store) {
	t.Helper()
	cell := config.NewStaticCell(cfg, nil)
	return cell, queue.NewStore(cell, nil, opts...)
}
