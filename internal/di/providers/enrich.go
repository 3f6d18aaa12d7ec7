package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/enrich"
	"github.com/stacksapp/stacks-server/internal/logger"
	"github.com/stacksapp/stacks-server/internal/progress"
)

// ProvideHub provides the progress channel hub.
func ProvideHub(i do.Injector) (*progress.Hub, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return progress.NewHub(log.Logger), nil
}

// ProvideTransport provides the push progress transport backed by the hub.
// Polling clients are served by the job status endpoint instead.
func ProvideTransport(i do.Injector) (progress.Transport, error) {
	hub := do.MustInvoke[*progress.Hub](i)
	return progress.NewPushTransport(hub), nil
}

// ProvideResolver provides the identifier-first metadata resolver.
func ProvideResolver(i do.Injector) (*enrich.Resolver, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	olHandle := do.MustInvoke[*OpenLibraryClientHandle](i)
	gbHandle := do.MustInvoke[*GoogleBooksClientHandle](i)

	// Open Library first: it carries richer edition data and a friendlier
	// anonymous quota than Google Books.
	providers := []enrich.Provider{
		enrich.NewOpenLibraryProvider(olHandle.Client, cfg.Enrich.ProviderTimeout),
		enrich.NewGoogleBooksProvider(gbHandle.Client, cfg.Enrich.ProviderTimeout),
	}

	return enrich.NewResolver(providers, cfg.Enrich.SimilarityThreshold, log.Logger), nil
}

// OrchestratorHandle wraps the orchestrator with Shutdownable.
type OrchestratorHandle struct {
	*enrich.Orchestrator
}

// Shutdown implements do.Shutdownable.
func (h *OrchestratorHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Stop(ctx)
}

// ProvideOrchestrator provides the batch orchestrator. Jobs left queued or
// running by a previous process are failed as retryable before new work is
// accepted.
func ProvideOrchestrator(i do.Injector) (*OrchestratorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	resolver := do.MustInvoke[*enrich.Resolver](i)
	transport := do.MustInvoke[progress.Transport](i)

	orch := enrich.NewOrchestrator(storeHandle.Store, resolver, transport, enrich.OrchestratorConfig{
		ItemConcurrency:     cfg.Enrich.ItemConcurrency,
		MaxConcurrentJobs:   cfg.Enrich.MaxConcurrentJobs,
		ReadyTimeout:        cfg.Channel.ReadyTimeout,
		ReconnectGrace:      cfg.Channel.ReconnectGrace,
		Retention:           cfg.Store.Retention,
		CoalesceFraction:    cfg.Enrich.CoalesceFraction,
		CoalesceItems:       cfg.Enrich.CoalesceItems,
		CoalesceMinInterval: cfg.Enrich.CoalesceMinInterval,
		PublicURL:           cfg.Server.PublicURL,
	}, log.Logger)

	if err := orch.RecoverInterruptedJobs(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Orchestrator started",
		"item_concurrency", cfg.Enrich.ItemConcurrency,
		"max_concurrent_jobs", cfg.Enrich.MaxConcurrentJobs,
	)

	return &OrchestratorHandle{Orchestrator: orch}, nil
}
