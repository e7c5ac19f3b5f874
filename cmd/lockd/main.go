package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/lockd/pkg/locks"
	"git.srvlab.io/whiskey/lockd/pkg/observability"
	"git.srvlab.io/whiskey/lockd/pkg/server"
)

// buildVersion is set at link time with -ldflags "-X main.buildVersion=..."
var buildVersion = "dev"

var (
	// Server configuration
	endpoint       = flag.String("endpoint", server.DefaultEndpoint, "gRPC endpoint (unix:///path or tcp://host:port)")
	metricsAddress = flag.String("metrics-address", ":9809", "Address for the Prometheus metrics endpoint (empty disables)")

	// Rate limiting
	maxRequestRate = flag.Float64("max-request-rate", 0, "Maximum RPCs per second across all clients (0 disables)")
	requestBurst   = flag.Int("request-burst", 10, "Burst size for the request rate limiter")

	// Version flag
	version = flag.Bool("version", false, "Print version and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *version {
		fmt.Println("lockd", buildVersion)
		os.Exit(0)
	}

	if *maxRequestRate < 0 {
		klog.Fatal("--max-request-rate cannot be negative")
	}

	if err := run(); err != nil {
		klog.Fatalf("lockd failed: %v", err)
	}
	klog.Info("lockd stopped")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	mgr := locks.NewLockManager(locks.ManagerConfig{Metrics: metrics})

	config := server.Config{
		Endpoint:       *endpoint,
		MaxRequestRate: *maxRequestRate,
		RequestBurst:   *requestBurst,
	}
	srv := server.NewServer(config, mgr, metrics)

	klog.Infof("Starting lockd %s", buildVersion)
	if err := srv.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Wait(); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	var metricsServer *http.Server
	if *metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:              *metricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			klog.Infof("Metrics listening on %s", *metricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		klog.Info("Shutting down")

		// Ejects every held lock, so open streams end and GracefulStop returns
		srv.Stop()

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				klog.Warningf("Metrics server shutdown: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}
