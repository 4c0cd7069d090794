// Package daemon assembles the kiosk subsystems and owns their lifecycle:
// the workflow controller, the input arbiter, the HTTP API and the config
// watcher all start and stop together.
package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/api"
	"gatekeeper/internal/arbiter"
	"gatekeeper/internal/backend"
	"gatekeeper/internal/capture"
	"gatekeeper/internal/config"
	"gatekeeper/internal/decode"
	"gatekeeper/internal/log"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/passes"
	"gatekeeper/internal/workflow"
)

const shutdownGrace = 10 * time.Second

// App is the assembled kiosk daemon.
type App struct {
	holder  *config.Holder
	logger  zerolog.Logger
	ctrl    *workflow.Controller
	arb     *arbiter.Arbiter
	channel *capture.Channel
	server  *http.Server
}

// New builds the daemon from the current configuration.
func New(holder *config.Holder) *App {
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	client := backend.New(cfg.BackendURL)

	var local decode.Decoder
	if decode.Available(cfg.DecoderBin) {
		local = decode.NewLocalDecoder(cfg.DecoderBin)
		logger.Info().
			Str(log.FieldEvent, "decoder.native").
			Str("bin", cfg.DecoderBin).
			Msg("local decoder available, native mode")
	} else {
		logger.Info().
			Str(log.FieldEvent, "decoder.fallback").
			Str("bin", cfg.DecoderBin).
			Msg("no local decoder, remote fallback mode")
	}
	remote := decode.NewRemoteDecoder(cfg.DecodeURL)

	grabber := capture.NewFrameGrabber("", cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight)
	channel := capture.NewChannel(grabber, local, remote)
	channel.SetIntervals(cfg.NativeInterval.Std(), cfg.FallbackInterval.Std())

	ctrl := workflow.New(client, metrics.Workflow{},
		workflow.WithResetDelay(cfg.ResetDelay.Std()),
		workflow.WithCallTimeout(cfg.CallTimeout.Std()))

	var opener arbiter.WedgeOpener
	if cfg.WedgeDevice != "" {
		device := cfg.WedgeDevice
		opener = func() (io.ReadCloser, error) { return os.Open(device) } // #nosec G304
	}
	arb := arbiter.New(ctrl, channel, local, remote, opener)

	ps := passes.New(cfg.QRURL, cfg.BarcodeURL, cfg.DataDir)
	srv := api.New(ctrl, arb, ps, cfg.RateLimit)

	return &App{
		holder:  holder,
		logger:  logger,
		ctrl:    ctrl,
		arb:     arb,
		channel: channel,
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Controller exposes the workflow controller, mainly for tests.
func (a *App) Controller() *workflow.Controller { return a.ctrl }

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort; the daemon runs without it.
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).
			Str(log.FieldEvent, "config.watcher_start_failed").
			Msg("config watcher not started")
	}

	// SIGHUP triggers a manual reload.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				a.logger.Info().Str(log.FieldEvent, "config.reload_signal").Msg("SIGHUP received")
				if err := a.holder.Reload(context.Background()); err != nil {
					a.logger.Warn().Err(err).Msg("config reload failed")
				}
			}
		}
	})

	// Live-applicable settings from config reloads. Everything else (listen
	// address, backend URL, device paths) requires a restart.
	updates := make(chan config.Config, 1)
	a.holder.RegisterListener(updates)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-updates:
				a.channel.SetIntervals(cfg.NativeInterval.Std(), cfg.FallbackInterval.Std())
				a.logger.Info().
					Str(log.FieldEvent, "config.applied").
					Msg("sampling intervals updated; other changes take effect on restart")
			}
		}
	})

	// Input arbitration (wedge attach loop, camera supervision).
	g.Go(func() error {
		return a.arb.Run(ctx)
	})

	// HTTP API.
	g.Go(func() error {
		a.logger.Info().
			Str(log.FieldEvent, "http.listening").
			Str("addr", a.server.Addr).
			Msg("API listening")
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})

	err := g.Wait()
	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}
