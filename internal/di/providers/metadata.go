package providers

import (
	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/logger"
	"github.com/stacksapp/stacks-server/internal/metadata/googlebooks"
	"github.com/stacksapp/stacks-server/internal/metadata/openlibrary"
)

// OpenLibraryClientHandle wraps the Open Library client with Shutdownable.
type OpenLibraryClientHandle struct {
	*openlibrary.Client
}

// Shutdown implements do.Shutdownable.
func (h *OpenLibraryClientHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideOpenLibraryClient provides the Open Library API client.
func ProvideOpenLibraryClient(i do.Injector) (*OpenLibraryClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	client := openlibrary.New(cfg.Providers.OpenLibraryBaseURL, log.Logger)
	return &OpenLibraryClientHandle{Client: client}, nil
}

// GoogleBooksClientHandle wraps the Google Books client with Shutdownable.
type GoogleBooksClientHandle struct {
	*googlebooks.Client
}

// Shutdown implements do.Shutdownable.
func (h *GoogleBooksClientHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideGoogleBooksClient provides the Google Books API client.
func ProvideGoogleBooksClient(i do.Injector) (*GoogleBooksClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	client := googlebooks.NewClient(cfg.Providers.GoogleBooksBaseURL, cfg.Providers.GoogleBooksAPIKey, log.Logger)
	if cfg.Providers.GoogleBooksAPIKey == "" {
		log.Info("Google Books running without an API key, anonymous quota applies")
	}
	return &GoogleBooksClientHandle{Client: client}, nil
}
