package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/api"
	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/logger"
	"github.com/stacksapp/stacks-server/internal/progress"
	"github.com/stacksapp/stacks-server/internal/ratelimit"
	"github.com/stacksapp/stacks-server/internal/sse"
)

// RateLimiterHandle wraps the inbound limiter with Shutdownable.
// A nil limiter means rate limiting is disabled by configuration.
type RateLimiterHandle struct {
	Limiter *ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	if h.Limiter != nil {
		h.Limiter.Stop()
	}
	return nil
}

// ProvideRateLimiter provides the per-client inbound rate limiter.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Server.RateLimitRPS <= 0 {
		log.Info("Inbound rate limiting disabled")
		return &RateLimiterHandle{}, nil
	}

	return &RateLimiterHandle{
		Limiter: ratelimit.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}, nil
}

// ProvideSSEHandler provides the progress stream handler.
func ProvideSSEHandler(i do.Injector) (*sse.Handler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	hub := do.MustInvoke[*progress.Hub](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)

	return sse.NewHandler(hub, storeHandle.Store, tokens, cfg.Channel.ReconnectGrace, cfg.Channel.Heartbeat, log.Logger), nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	orchHandle := do.MustInvoke[*OrchestratorHandle](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	sseHandler := do.MustInvoke[*sse.Handler](i)
	limiterHandle := do.MustInvoke[*RateLimiterHandle](i)

	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = "http://localhost:" + cfg.Server.Port
	}

	handler := api.NewServer(storeHandle.Store, orchHandle.Orchestrator, tokens, sseHandler, limiterHandle.Limiter, publicURL, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr, "public_url", publicURL)

	return &HTTPServerHandle{Server: srv}, nil
}
