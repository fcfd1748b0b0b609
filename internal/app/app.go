package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/loftchat/loftchat-server/internal/auth"
	"github.com/loftchat/loftchat-server/internal/config"
	"github.com/loftchat/loftchat-server/internal/core"
	"github.com/loftchat/loftchat-server/internal/media"
	"github.com/loftchat/loftchat-server/internal/store"
	"github.com/loftchat/loftchat-server/internal/store/sqlite"
	transporthttp "github.com/loftchat/loftchat-server/internal/transport/http"
)

// App wires together core, storage and transport layers.
type App struct {
	cfg    config.Config
	server *stdhttp.Server
	coord  *core.Coordinator
	store  store.Store
	media  *media.Store
	log    *zerolog.Logger
}

// New constructs the application with provided configuration. The durable log
// must open before anything else: a broken database is a startup failure, not
// a degraded mode.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	mediaStore, err := media.NewStore(cfg.MediaDir, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init media store: %w", err)
	}

	tokens := &auth.TokenConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}

	hub := core.NewHub()
	coord := core.NewCoordinator(st, hub, core.Options{
		HistoryLimit: cfg.HistoryLimit,
		KickCooldown: cfg.KickCooldown,
		RecallWindow: cfg.RecallWindow,
		Tokens:       tokens,
	}, logger)

	if err := coord.RestoreSnapshot(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("restore snapshot: %w", err)
	}
	if cfg.AdminUsername != "" && cfg.AdminSecret != "" {
		if err := coord.SeedAdmin(cfg.AdminUsername, cfg.AdminSecret); err != nil {
			st.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
		logger.Info().Str("username", cfg.AdminUsername).Msg("admin account seeded")
	}

	server := transporthttp.NewServer(coord, hub, mediaStore, cfg, logger)

	return &App{
		cfg:    cfg,
		server: server,
		coord:  coord,
		store:  st,
		media:  mediaStore,
		log:    logger,
	}, nil
}

// Run starts the coordinator loop, background tickers and the HTTP server,
// then blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	// The coordinator must outlive ctx: the final snapshot in cleanup still
	// needs its loop. It stops with coordCancel after cleanup.
	coordCtx, coordCancel := context.WithCancel(context.Background())
	defer coordCancel()

	go a.coord.Run(coordCtx)
	go a.snapshotLoop(ctx)
	go a.mediaSweepLoop(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// snapshotLoop persists coordinator state on a fixed cadence.
func (a *App) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := a.coord.Snapshot(snapCtx); err != nil {
				a.log.Warn().Err(err).Msg("periodic snapshot failed")
			}
			cancel()
		}
	}
}

// mediaSweepLoop deletes expired uploads on a fixed cadence.
func (a *App) mediaSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.MediaSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.media.Sweep(a.cfg.MediaRetention)
		}
	}
}

// cleanup takes a final snapshot and closes resources. The coordinator loop
// is still running here and stops after cleanup returns.
func (a *App) cleanup() {
	snapCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.coord.Snapshot(snapCtx); err != nil {
		a.log.Warn().Err(err).Msg("final snapshot failed")
	} else {
		a.log.Info().Msg("final snapshot written")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
