// Command gatekeeper runs the forward HTTP/HTTPS proxy (C11): it wires
// configuration, domain policy, the response cache, logging, and
// metrics together, then serves connections until an interrupt.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arrowlane/gatekeeper/internal/cache"
	"github.com/arrowlane/gatekeeper/internal/config"
	"github.com/arrowlane/gatekeeper/internal/dispatcher"
	"github.com/arrowlane/gatekeeper/internal/observer"
	"github.com/arrowlane/gatekeeper/internal/policy"
)

const applicationName = "gatekeeper"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, applicationName+": "+err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(applicationName, args)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := observer.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)

	pol, err := policy.New(cfg.Policy.BlocklistPath, func(msg, path string, line int) {
		log.Warn(msg, observer.Pairs{"path": path, "line": line})
	})
	if err != nil {
		return fmt.Errorf("loading blocklist: %w", err)
	}

	c := cache.NewCache(cache.Config{
		MaxEntries:  cfg.Cache.MaxEntries,
		MaxBytes:    cfg.Cache.MaxBytes,
		TTL:         cfg.Cache.CacheTTL(),
		Compression: cfg.Cache.Compression,
	})

	reg := prometheus.NewRegistry()
	metrics := observer.NewPrometheusMetrics(reg)

	metricsAddr := net.JoinHostPort(cfg.Metrics.Host, fmt.Sprintf("%d", cfg.Metrics.Port))
	metricsServer := observer.NewMetricsServer(metricsAddr, reg, log)

	disp := dispatcher.New(pol, c, log, metrics, cfg.Listen.IdleTimeout())

	listenAddr := net.JoinHostPort(cfg.Listen.Host, fmt.Sprintf("%d", cfg.Listen.Port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding listener %s: %w", listenAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("metrics endpoint listening", observer.Pairs{"addr": metricsAddr})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", observer.Pairs{"error": err.Error()})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptLoop(ctx, ln, disp, log)
	}()

	log.Info("proxy listening", observer.Pairs{"addr": listenAddr})

	<-ctx.Done()
	log.Info("shutdown signal received", observer.Pairs{})

	ln.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	wg.Wait()

	printShutdownSummary(metrics, c)
	return nil
}

func acceptLoop(ctx context.Context, ln net.Listener, disp *dispatcher.Dispatcher, log observer.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("accept failed", observer.Pairs{"error": err.Error()})
				return
			}
		}
		go disp.Handle(conn)
	}
}

func printShutdownSummary(metrics observer.Metrics, c *cache.Cache) {
	snap := metrics.Snapshot()
	stats := c.Stats()
	fmt.Fprintf(os.Stdout, "gatekeeper: shutting down after %s: total=%d blocked=%d allowed=%d cache(%s)\n",
		snap.Uptime.Round(time.Second), snap.Total, snap.Blocked, snap.Allowed, stats.String())
}
