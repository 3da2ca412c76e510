package syncer

import (
	"fmt"
	"log/slog"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/db"
	"github.com/newflowio/elova/internal/n8n"
	"github.com/newflowio/elova/internal/secretbox"
)

// ProviderClients opens stored API keys with box and builds n8n clients
// tuned by the sync settings. Keys saved before encryption was enabled are
// used as stored.
func ProviderClients(box *secretbox.Box, cfg config.SyncConfig, logger *slog.Logger) ClientFunc {
	return func(p db.Provider) (Source, error) {
		key, err := OpenAPIKey(box, p.APIKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		client, err := n8n.New(n8n.Options{
			BaseURL:           p.BaseURL,
			APIKey:            key,
			Timeout:           cfg.RequestTimeout,
			MaxRetries:        cfg.MaxRetries,
			MaxRetryWait:      cfg.MaxRetryWait,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// OpenAPIKey returns the plaintext key for a stored provider.
func OpenAPIKey(box *secretbox.Box, stored string) (string, error) {
	if !secretbox.IsSealed(stored) {
		return stored, nil
	}
	if box == nil {
		return "", fmt.Errorf("api key is encrypted but no secret key is configured")
	}
	key, err := box.OpenString(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return key, nil
}
