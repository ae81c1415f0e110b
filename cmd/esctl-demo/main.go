// Command esctl-demo wires a synthetic DataProvider through
// PlayerController and DataProviderConnector into a StreamController
// backed by a fake native player, exposing Prometheus metrics while it
// runs a fixed-length synthetic clip end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ariharrison/esctl/internal/config"
	"github.com/ariharrison/esctl/internal/connector"
	"github.com/ariharrison/esctl/internal/media"
	"github.com/ariharrison/esctl/internal/nativeplayer"
	"github.com/ariharrison/esctl/internal/playback"
	"github.com/ariharrison/esctl/internal/playerctl"
)

func main() {
	cfg := config.FromEnv()

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	clipDuration := 8 * time.Second

	controller, err := playback.New(cfg, func() (nativeplayer.Player, error) {
		return nativeplayer.NewFakePlayer(), nil
	}, nil, slog.Default())
	if err != nil {
		slog.Error("failed to construct controller", "error", err)
		os.Exit(1)
	}

	kinds := []media.StreamKind{media.Audio, media.Video}
	for _, kind := range kinds {
		if err := controller.Initialize(kind); err != nil {
			slog.Error("failed to initialize stream", "stream", kind, "error", err)
			os.Exit(1)
		}
	}

	provider := playerctl.NewSyntheticProvider(clipDuration, kinds, slog.Default())
	playerCtl, err := playerctl.New(controller, provider, slog.Default())
	if err != nil {
		slog.Error("failed to construct player controller", "error", err)
		os.Exit(1)
	}

	conn, err := connector.New(provider, playerCtl, controller, slog.Default())
	if err != nil {
		slog.Error("failed to construct connector", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return provider.Run(ctx)
	})

	g.Go(func() error {
		return playerCtl.Run(ctx)
	})

	g.Go(func() error {
		states, sub := controller.SubscribeState(8)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-states:
				if !ok {
					return nil
				}
				slog.Info("state changed", "state", s)
			}
		}
	})

	g.Go(func() error {
		slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(clipDuration + 2*time.Second):
			slog.Info("synthetic clip finished, shutting down")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		slog.Error("demo exited with error", "error", err)
		_ = controller.Dispose()
		os.Exit(1)
	}
	_ = controller.Dispose()
}
