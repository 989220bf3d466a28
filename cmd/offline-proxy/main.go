// Command offline-proxy runs the offline layer as a local HTTP proxy in
// front of the application origin, for manual testing: requests to the
// proxy are classified, cached and synthesized exactly as the embedded
// layer would, surviving origin outages with cached responses.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/sevensteps/offline"
	"github.com/sevensteps/offline/config"
	storebolt "github.com/sevensteps/offline/store/bolt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "offline-proxy:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	if cfg.Origin == "" {
		return fmt.Errorf("OFFLINE_ORIGIN is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}

	registry, err := storebolt.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer registry.Close()

	worker, err := offline.New(registry,
		offline.WithAppName(cfg.App),
		offline.WithVersion(cfg.Version),
		offline.WithRules(offline.Rules{
			Origin:         cfg.Origin,
			AllowedOrigins: cfg.AllowedOrigins,
			APIPrefix:      cfg.APIPrefix,
			AuthPrefix:     cfg.AuthPrefix,
			StaticExts:     offline.DefaultRules().StaticExts,
		}),
		offline.WithManifest(cfg.Manifest...),
		offline.WithShellURL(cfg.ShellURL),
		offline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := worker.Install(ctx); err != nil {
		return err
	}
	if err := worker.Activate(ctx); err != nil {
		return err
	}
	logger.Info("worker active", "version", worker.Version(), "addr", cfg.ProxyAddr)

	client := &http.Client{Transport: worker}
	server := &http.Server{
		Addr:              cfg.ProxyAddr,
		Handler:           proxyHandler(client, origin, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	worker.Wait()
	return nil
}

func proxyHandler(client *http.Client, origin *url.URL, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		target := *origin
		target.Path = r.URL.Path
		target.RawQuery = r.URL.RawQuery

		req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadGateway)
			return
		}
		req.Header = r.Header.Clone()

		resp, err := client.Do(req)
		if err != nil {
			// Only passthrough requests can fail; surface the real error.
			http.Error(rw, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for k, vs := range resp.Header {
			for _, v := range vs {
				rw.Header().Add(k, v)
			}
		}
		rw.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(rw, resp.Body); err != nil {
			logger.Warn("copy response", "url", target.String(), "error", err)
		}
	})
}
