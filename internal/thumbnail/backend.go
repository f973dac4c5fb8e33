package thumbnail

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/cardswap/internal/config"
)

// OpenBackend builds the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.ThumbnailsConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(cfg.MemoryEntries)
	case "file":
		return NewFileBackend(cfg.Dir)
	case "s3":
		return NewS3Backend(ctx, cfg.S3)
	case "redis":
		return NewRedisBackend(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown thumbnail backend %q", cfg.Backend)
	}
}

// NewServiceFromConfig opens the configured backend and wraps it in a Service.
func NewServiceFromConfig(ctx context.Context, cfg config.ThumbnailsConfig) (*Service, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewService(backend, Options{
		URLPrefix: cfg.URLPrefix,
		Normalize: cfg.Normalize,
		MaxSide:   cfg.MaxSide,
		MaxBytes:  cfg.MaxBytes,
	}), nil
}
