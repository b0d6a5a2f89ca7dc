package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/webphone/pkg/config"
	"github.com/arzzra/webphone/pkg/devices"
	"github.com/arzzra/webphone/pkg/phone"
	"github.com/arzzra/webphone/pkg/ringtone"
	"github.com/arzzra/webphone/pkg/settings"
	"github.com/arzzra/webphone/pkg/sipua"
	"github.com/arzzra/webphone/pkg/webui"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "webphone",
		Usage: "SIP softphone with a web control panel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file",
				Sources: cli.EnvVars("WEBPHONE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "HTTP listen address, overrides http.listen",
				Sources: cli.EnvVars("WEBPHONE_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "settings store path, overrides store.path",
				Sources: cli.EnvVars("WEBPHONE_STORE"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "debug logging and SIP message tracing",
				Sources: cli.EnvVars("WEBPHONE_DEBUG"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("listen"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := c.String("store"); v != "" {
		cfg.Store.Path = v
	}
	if c.Bool("debug") {
		cfg.SIP.Debug = true
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.Store) (settings.Store, error) {
	if cfg.Backend == config.StoreSQLite {
		return settings.NewSQLiteStore(ctx, cfg.Path)
	}
	return settings.NewFileStore(cfg.Path)
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := cfg.Logger(cfg.SIP.Debug)
	slog.SetDefault(log)
	if cfg.SIP.Debug {
		sip.SIPDebug = true
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer store.Close()

	registry, err := devices.NewRegistryFromSpecs(cfg.Media.InputDevices, cfg.Media.OutputDevices)
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}

	ringOutput := cfg.Ringtone.Output
	if ringOutput == "" {
		ringOutput = devices.DefaultID
	}
	ring := ringtone.New(
		func() (devices.Sink, error) { return registry.OpenOutput(ringOutput) },
		ringtone.WithLogger(log),
		ringtone.WithUnlockRequired(cfg.Ringtone.RequireUnlock),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := webui.NewHub(log)

	factory := sipua.Factory(
		sipua.WithLogger(log),
		sipua.WithDevices(registry),
		sipua.WithListen(cfg.SIP.Listen),
	)
	ctrl := phone.New(factory, phone.Options{
		Logger:                    log,
		Observer:                  hub,
		Ringtone:                  ring,
		Metrics:                   phone.NewMetrics(reg),
		UserAgent:                 cfg.SIP.UserAgent,
		RegisterExpires:           cfg.RegisterExpiresDuration(),
		DefaultWSSPort:            cfg.SIP.DefaultWSSPort,
		StopTransportOnUnregister: cfg.SIP.StopTransportOnUnregister,
	})
	defer ctrl.Close()

	saved, err := store.Load(ctx)
	if err != nil {
		log.Error("load settings", slog.String("error", err.Error()))
	}
	if err := ctrl.Restore(saved); err != nil {
		log.Warn("auto register failed", slog.String("error", err.Error()))
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: webui.NewServer(ctrl, store, hub, webui.Options{
			Logger:   log,
			Devices:  registry,
			Gatherer: reg,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		log.Info("web ui listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}
