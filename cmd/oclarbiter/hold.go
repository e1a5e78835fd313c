package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/oclarbiter/internal/compute"
	"github.com/fxnlabs/oclarbiter/internal/config"
	"github.com/fxnlabs/oclarbiter/internal/lockfile"
	"github.com/fxnlabs/oclarbiter/internal/platform"
	"github.com/fxnlabs/oclarbiter/internal/report"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func holdCommand() *cli.Command {
	return &cli.Command{
		Name:  "hold",
		Usage: "Reserve the best device and keep it until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address while holding",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Release the device after this long (0 holds until a signal)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			if c.IsSet("metrics-addr") {
				cfg.Metrics.ListenAddress = c.String("metrics-addr")
			}

			app := newHoldApp(cfg, log, c.App.Writer)
			if err := app.Err(); err != nil {
				return err
			}
			return runHold(c.Context, app, log, c.Duration("duration"))
		},
	}
}

func newHoldApp(cfg *config.Config, log *zap.Logger, w io.Writer) *fx.App {
	return fx.New(
		fx.Supply(cfg, log),
		fx.Provide(func() io.Writer { return w }),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newAPI,
			newReserver,
			newHeldPlatforms,
		),
		fx.Invoke(registerHold),
	)
}

// runHold starts app, waits for a shutdown signal, the end of ctx, or the
// given duration, then stops it.
func runHold(ctx context.Context, app *fx.App, log *zap.Logger, duration time.Duration) error {
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	var expired <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case sig := <-app.Wait():
		log.Info("shutting down", zap.Stringer("signal", sig))
	case <-ctx.Done():
		log.Info("shutting down", zap.Error(ctx.Err()))
	case <-expired:
		log.Info("hold duration elapsed", zap.Duration("duration", duration))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}

func newHeldPlatforms(lc fx.Lifecycle, cfg *config.Config, api compute.API, reserver lockfile.Reserver, log *zap.Logger) (*platform.Registry, error) {
	reg, err := initPlatforms(cfg, api, reserver, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return reg.Close()
		},
	})
	return reg, nil
}

func registerHold(lc fx.Lifecycle, cfg *config.Config, reg *platform.Registry, w io.Writer, log *zap.Logger) {
	var server *http.Server

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p, err := lockBestDevice(w, reg)
			if err != nil {
				return err
			}
			d, err := p.PreferredDevice()
			if err != nil {
				return err
			}

			fmt.Fprintln(w, figure.NewFigure("oclarbiter", "", true).String())
			report.WriteDevice(w, d)
			fmt.Fprintf(w, "Holding %s on %s", d.Name(), p.Name())
			if path := d.LockPath(); path != "" {
				fmt.Fprintf(w, " (lock file %s)", path)
			}
			fmt.Fprintln(w)
			log.Info("holding device",
				zap.String("platform", p.Key()),
				zap.String("device", d.Name()),
				zap.Int("id", d.Index()),
				zap.String("lock_file", d.LockPath()))

			if cfg.Metrics.ListenAddress == "" {
				return nil
			}
			ln, err := net.Listen("tcp", cfg.Metrics.ListenAddress)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server = &http.Server{Handler: mux}
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			log.Info("serving metrics", zap.String("address", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if server == nil {
				return nil
			}
			return server.Shutdown(ctx)
		},
	})
}
