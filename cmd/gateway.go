package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/cardswap/internal/bus"
	"github.com/nextlevelbuilder/cardswap/internal/config"
	"github.com/nextlevelbuilder/cardswap/internal/gateway"
	"github.com/nextlevelbuilder/cardswap/internal/gateway/methods"
	"github.com/nextlevelbuilder/cardswap/internal/handshake"
	httpapi "github.com/nextlevelbuilder/cardswap/internal/http"
	"github.com/nextlevelbuilder/cardswap/internal/proximity"
	"github.com/nextlevelbuilder/cardswap/internal/sessions"
	"github.com/nextlevelbuilder/cardswap/internal/store"
	"github.com/nextlevelbuilder/cardswap/internal/swap"
	"github.com/nextlevelbuilder/cardswap/internal/thumbnail"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the card swap hub (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level := config.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, cfg)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dir := proximity.NewDirectory(cfg.Proximity.RadiusMeters)
	hs := handshake.NewCoordinator()
	router := sessions.NewRouter()
	events := bus.New()

	g, gctx := errgroup.WithContext(ctx)

	var (
		auditLog store.ExchangeLog
		recorder *store.Recorder
	)
	if cfg.Audit.Enabled() {
		auditLog, err = openAuditLog(ctx, cfg.Audit)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		recorder = store.NewRecorder(auditLog, cfg.Audit.QueueSize)
		events.Subscribe("audit", recorder.Handle)
		g.Go(func() error { return recorder.Run(gctx) })
		slog.Info("exchange audit enabled", "driver", cfg.Audit.Driver)
	}

	thumbs, err := thumbnail.NewServiceFromConfig(ctx, cfg.Thumbnails)
	if err != nil {
		return fmt.Errorf("thumbnail store: %w", err)
	}
	defer thumbs.Close()

	encoding := swap.PeerEncodingStructured
	if cfg.Gateway.LegacyPeerEncoding {
		encoding = swap.PeerEncodingLegacy
	}
	dispatcher := swap.NewDispatcher(dir, hs, router,
		swap.WithPublisher(events),
		swap.WithPeerEncoding(encoding),
		swap.WithThumbnailStore(thumbs),
	)

	server := gateway.NewServer(cfg.Gateway,
		gateway.WithVersion(Version),
		gateway.WithRateLimiter(gateway.NewRateLimiter(ctx, cfg.Gateway.RateLimitRPM, cfg.Gateway.RateLimitBurst)),
		gateway.WithStatus(func() map[string]any {
			status := map[string]any{
				"devices":    dir.Len(),
				"sessions":   router.Count(),
				"radius":     dir.Radius(),
				"handshakes": hs.Stats(),
			}
			if recorder != nil {
				status["auditDropped"] = recorder.Dropped()
			}
			return status
		}),
	)

	swapMethods := methods.NewSwapMethods(dispatcher)
	swapMethods.Register(server.Router())
	server.OnDisconnect(swapMethods.HandleDisconnect)

	mountHTTP(server, cfg, thumbs, auditLog)

	g.Go(func() error { return server.Start(gctx) })
	if cfg.Handshake.SweepIntervalSec > 0 {
		g.Go(func() error {
			return hs.RunJanitor(gctx, cfg.Handshake.SweepInterval(), cfg.Handshake.Retention())
		})
	}

	if watcher, err := config.NewWatcher(cfgPath); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	} else {
		watcher.OnChange(func(next *config.Config) {
			if next.Proximity.RadiusMeters != dir.Radius() {
				dir.SetRadius(next.Proximity.RadiusMeters)
				slog.Info("proximity radius changed", "meters", next.Proximity.RadiusMeters)
			}
			if lvl, err := config.ParseLevel(next.Log.Level); err == nil && lvl != level.Level() {
				level.Set(lvl)
				slog.Info("log level changed", "level", lvl.String())
			}
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	slog.Info("cardswap starting",
		"version", Version,
		"addr", cfg.ListenAddr(),
		"path", cfg.Gateway.Path,
		"radius", cfg.Proximity.RadiusMeters,
		"thumbnails", cfg.Thumbnails.Backend,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// mountHTTP adds the plain HTTP routes next to the websocket endpoint.
func mountHTTP(server *gateway.Server, cfg *config.Config, thumbs *thumbnail.Service, auditLog store.ExchangeLog) {
	server.Handle("GET /health", http.HandlerFunc(httpapi.HealthHandler))

	prefix := thumbnailRoutePrefix(cfg.Thumbnails.URLPrefix)
	thumbMux := http.NewServeMux()
	httpapi.NewThumbnailsHandler(thumbs).RegisterRoutes(thumbMux, prefix)
	server.Handle(prefix+"/", thumbMux)

	if auditLog != nil {
		historyMux := http.NewServeMux()
		httpapi.NewHistoryHandler(auditLog, cfg.Gateway.Token).RegisterRoutes(historyMux)
		server.Handle("/v1/exchanges/", historyMux)
	}
}

// thumbnailRoutePrefix extracts the path of the thumbnail URL prefix, which
// may be absolute (e.g. "https://cdn.example.com/thumbnails").
func thumbnailRoutePrefix(urlPrefix string) string {
	p := urlPrefix
	if u, err := url.Parse(urlPrefix); err == nil && u.Host != "" {
		p = u.Path
	}
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return "/thumbnails"
	}
	return p
}
