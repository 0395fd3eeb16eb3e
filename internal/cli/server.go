package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pubranker/internal/app"
	"pubranker/internal/config"
	"pubranker/internal/metrics"
	"pubranker/internal/syncer"
	transport "pubranker/internal/transport/http"
	"pubranker/pkg/logger"

	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, addr *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scoring server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *addr)
		},
	}
	cmd.Flags().StringVar(addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func runServer(ctx context.Context, configPath, addrFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	m := metrics.New()

	ctrl, err := openStorage(ctx, cfg, log, m)
	if err != nil {
		log.Error(ctx, "cannot open any storage tier", logger.Error(err))
		return err
	}
	defer ctrl.Close()

	opts := []app.Option{app.WithLogger(log.Named("gateway")), app.WithMetrics(m)}
	if feed := ctrl.Feed(); feed != nil {
		opts = append(opts, app.WithExporter(feed))
	}
	gateway := app.NewGateway(ctrl.Store(), opts...)
	defer gateway.Close()
	if err := gateway.Load(ctx); err != nil {
		return err
	}

	machine := syncer.New(gateway,
		syncer.WithLogger(log.Named("sync")),
		syncer.WithMetrics(m),
		syncer.WithAvailability(availability(ctrl)),
		syncer.WithDelays(
			config.TTLDuration(cfg.Sync.Settle, syncer.DefaultSettleDelay),
			config.TTLDuration(cfg.Sync.SuccessReset, syncer.DefaultSuccessReset),
			config.TTLDuration(cfg.Sync.ErrorReset, syncer.DefaultErrorReset),
		),
	)
	defer machine.Close()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	if feed := ctrl.Feed(); feed != nil {
		go machine.Run(runCtx, feed.Events())
	}
	go func() {
		if err := machine.Start(runCtx); err != nil {
			log.Warn(runCtx, "startup sync skipped", logger.Error(err))
		}
	}()

	ws := transport.NewWSHandler(gateway, machine, log.Named("ws"))
	server := &http.Server{
		Addr:         listenAddr(addrFlag, cfg.Server.Addr),
		Handler:      transport.NewRouter(ws, ctrl.Tier().String(), ctrl.Degraded(), m.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info(ctx, "starting pubranker", logger.String("addr", server.Addr), logger.String("tier", ctrl.Tier().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server stopped", logger.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info(ctx, "shutting down server")
	case <-ctx.Done():
		log.Info(ctx, "context canceled, shutting down server")
	}
	stopRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gateway.Flush(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "final flush failed", logger.Error(err))
	}
	return server.Shutdown(shutdownCtx)
}

func listenAddr(flag, configured string) string {
	switch {
	case flag != "":
		return flag
	case configured != "":
		return configured
	default:
		return ":8080"
	}
}
