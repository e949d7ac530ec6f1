package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/sudoplatform/securecomms/pkg/config"
)

var syncCommand = &cli.Command{
	Name:   "sync",
	Usage:  "Keep syncing until interrupted",
	Before: requiresAuth,
	After:  closeSession,
	Action: cmdSync,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "metrics",
			Usage: "Address to serve Prometheus metrics on, overriding the config",
		},
	},
}

func serveMetrics(ctx *cli.Context, addr string) func() {
	log := getLogger(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("Metrics server failed")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// watchToken picks up access tokens rotated by another commsctl process or
// an external tool writing the state file.
func watchToken(runCtx context.Context, ctx *cli.Context) {
	client := getClient(ctx)
	st := getState(ctx)
	log := getLogger(ctx)
	err := config.WatchFile(runCtx, st.Path, *log, func() {
		updated, err := loadState(st.Path)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to reload state")
			return
		} else if updated.AccessToken == "" || updated.AccessToken == st.AccessToken {
			return
		}
		st.AccessToken = updated.AccessToken
		client.UpdateAccessToken(updated.AccessToken)
		log.Info().Msg("Access token updated")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Not watching state file for token changes")
	}
}

func cmdSync(ctx *cli.Context) error {
	client := getClient(ctx)
	addr := getConfig(ctx).Metrics.Listen
	if ctx.IsSet("metrics") {
		addr = ctx.String("metrics")
	}
	if addr != "" {
		defer serveMetrics(ctx, addr)()
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go watchToken(runCtx, ctx)

	if err := client.StartSyncing(runCtx); err != nil {
		return fmt.Errorf("failed to start syncing: %w", err)
	}
	fmt.Printf("Syncing with %s, press Ctrl+C to stop\n", client.SyncStrategy())
	<-runCtx.Done()
	client.StopSyncing()
	return nil
}
