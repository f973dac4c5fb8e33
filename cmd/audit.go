package cmd

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/internal/store"
	"github.com/nextlevelbuilder/cardswap/internal/store/pg"
	"github.com/nextlevelbuilder/cardswap/internal/store/sqlite"
)

// openAuditLog opens the exchange log selected by cfg.Driver.
func openAuditLog(ctx context.Context, cfg config.AuditConfig) (store.ExchangeLog, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.OpenExchangeLog(ctx, cfg.DSN)
	case "postgres":
		return pg.OpenExchangeLog(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("audit log disabled (audit.driver=%q)", cfg.Driver)
	}
}
