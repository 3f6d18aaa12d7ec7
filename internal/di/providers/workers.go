package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/logger"
)

// JanitorHandle runs the periodic sweep of expired jobs and result sets.
type JanitorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (h *JanitorHandle) Shutdown() error {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(shutdownTimeout):
	}
	return nil
}

// ProvideJanitor provides the retention sweeper. Expired jobs also answer
// reads with a gone error, so the sweep only reclaims space; correctness
// does not depend on its cadence.
func ProvideJanitor(i do.Injector) (*JanitorHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				purged, err := storeHandle.PurgeExpired(ctx, now)
				if err != nil {
					log.Warn("Retention sweep failed", "error", err)
					continue
				}
				if purged > 0 {
					log.Info("Retention sweep purged expired jobs", "count", purged)
				}
			}
		}
	}()

	log.Info("Retention sweeper started", "interval", purgeInterval)

	return &JanitorHandle{cancel: cancel, done: done}, nil
}
