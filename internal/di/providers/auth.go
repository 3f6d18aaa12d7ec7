package providers

import (
	"github.com/samber/do/v2"

	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/config"
	"github.com/stacksapp/stacks-server/internal/logger"
)

// AuthKey wraps the channel token key bytes.
type AuthKey []byte

// ProvideAuthKey loads or generates the channel token key.
func ProvideAuthKey(i do.Injector) (AuthKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	key, err := auth.LoadOrGenerateKey(cfg.Store.DataPath)
	if err != nil {
		return nil, err
	}

	// Update config with the loaded key
	cfg.Auth.TokenKey = key

	log.Info("Channel token key loaded", "path", cfg.Store.DataPath)

	return AuthKey(key), nil
}

// ProvideTokenService provides the PASETO channel token service.
// Tokens stay verifiable for the job's full retention window so a client
// can reconnect at any point before results expire.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	authKey := do.MustInvoke[AuthKey](i)

	return auth.NewTokenService([]byte(authKey), cfg.Store.Retention)
}
