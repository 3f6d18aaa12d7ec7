package providers

import (
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/logger"
	"github.com/stacksapp/stacks-server/internal/store"
)

// StoreHandle wraps the job store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the badger job store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := filepath.Join(cfg.Store.DataPath, "jobs")
	db, err := store.New(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Job store initialized", "path", dbPath)

	return &StoreHandle{Store: db}, nil
}
