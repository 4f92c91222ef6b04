package orchestrator

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"temporal-fulfillment/codec"
	"temporal-fulfillment/config"
)

// Dial connects to Temporal with payload encryption enabled. A generated key
// is logged so the worker and starter can be configured with the same one.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	key, generated, err := codec.ResolveKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn("generated encryption key, set ENCRYPTION_KEY to reuse it", "key", hex.EncodeToString(key))
	}

	dataConverter, err := codec.NewEncryptionDataConverter(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption data converter: %w", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:      cfg.Address,
		Namespace:     cfg.Namespace,
		DataConverter: dataConverter,
		Logger:        tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}
