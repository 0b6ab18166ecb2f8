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

	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

// mockbackend stands in for the queue backend during local runs: it serves
// the live channel and the preview/booking endpoints over a simulated queue.
func main() {
	flagSet := pflag.NewFlagSet("mockbackend", pflag.ContinueOnError)
	addr := flagSet.String("addr", "127.0.0.1:9000", "listen address")
	queues := flagSet.StringSlice("queues", []string{"Counter 1", "Counter 2", "Counter 3"}, "queue display names")
	capacity := flagSet.Int("capacity", 20, "places per queue before it is marked unavailable")
	tick := flagSet.Duration("tick", 10*time.Second, "how often the head of each queue may be served")
	requireAuth := flagSet.Bool("require-auth", false, "reject requests without a bearer token")
	logLevel := flagSet.String("log-level", "INFO", "log level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *capacity < 2 {
		fmt.Fprintln(os.Stderr, "error: --capacity must be at least 2")
		os.Exit(2)
	}

	log := logger.NewLogger(&models.MConfig{LogLevel: *logLevel}, "mockbackend")
	defer log.Sync()

	if *logLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	sim := newSimulator(*queues, *capacity, time.Now().UnixNano())
	srv := &mockServer{sim: sim, logger: log, requireAuth: *requireAuth}
	httpSrv := &http.Server{Addr: *addr, Handler: srv.routes(), ReadHeaderTimeout: 10 * time.Second}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sim.tick()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		log.Info("Mock backend listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Critical("Mock backend failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
