// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Command demo-server runs the in-memory relying-party backend. It speaks
// the same ceremony contract the passkey client consumes, so a client (or
// the passkey CLI) pointed at it can exercise full registration and
// sign-in flows without a hosted backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-passkey/internal/relyingparty"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func main() {
	listen := flag.String("listen", ":8080", "Listen address")
	rpID := flag.String("rp-id", "localhost", "Relying party ID")
	rpName := flag.String("rp-name", "go-passkey demo", "Relying party display name")
	origins := flag.String("origins", "", "Comma-separated allowed origins (default: https://<rp-id>)")
	apiKey := flag.String("api-key", "", "Tenant API key to require (empty disables the check)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-passkey demo server %s\n", passkey.ClientVersion)
		os.Exit(0)
	}

	cfg := &relyingparty.Config{
		RPID:   *rpID,
		RPName: *rpName,
		APIKey: *apiKey,
	}
	if *origins != "" {
		cfg.Origins = strings.Split(*origins, ",")
	}

	rp, err := relyingparty.New(cfg, logging.NewLogger(*debug))
	if err != nil {
		slog.Error("Failed to create relying party", slog.Any("error", err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           rp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx := setupSignalHandler()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	slog.Info("Demo relying party started",
		"listen", *listen,
		"rp_id", *rpID)

	select {
	case <-shutdownCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errChan:
		slog.Error("Server error", slog.Any("error", err))
	}

	shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		slog.Error("Error during shutdown", slog.Any("error", err))
	}
	slog.Info("Demo relying party stopped")
}

// setupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx
}
