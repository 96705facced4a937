package app

import (
	"log/slog"

	"broker_go/internal/infra"
	"broker_go/internal/storage"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config *infra.Config
	Store  *storage.OrderStore
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logging,
// order store).
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := infra.EnsureDir(cfg.Store.Path); err != nil {
		return err
	}
	store, err := storage.NewOrderStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Order store opened (WAL-mode)", slog.String("path", cfg.Store.Path))

	return nil
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Store != nil {
		b.Store.Close()
	}
}
