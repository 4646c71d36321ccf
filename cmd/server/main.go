package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixelpandemonium.ai/internal/sim/catalogs"
	"pixelpandemonium.ai/internal/sim/tuning"
	"pixelpandemonium.ai/internal/transport/reflector"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		catalogsPath = flag.String("catalogs", "", "path to catalogs.yaml (default: <configs>/catalogs.yaml, built-in if absent)")
		dataDir      = flag.String("data", "", "record orders and snapshots here (optional)")
		seed         = flag.Int64("seed", 0, "override the tuning seed (0 keeps the configured one)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = optionalFile(filepath.Join(*configDir, "tuning.yaml"))
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	cp := strings.TrimSpace(*catalogsPath)
	if cp == "" {
		cp = optionalFile(filepath.Join(*configDir, "catalogs.yaml"))
	}
	cats, err := catalogs.Load(cp)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	r, err := reflector.New(reflector.Config{Tuning: tune, Catalogs: cats, DataDir: strings.TrimSpace(*dataDir)}, logger)
	if err != nil {
		logger.Fatalf("init reflector: %v", err)
	}
	logger.Printf("session=%s seed=%d catalogs=%s", r.SessionID(), tune.Seed, cats.Digest())

	ctx, cancel := signalContext()
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("reflector stopped: %v", err)
		}
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "session_id": r.SessionID()})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/state", r.StateHandler())
	mux.HandleFunc("/v1/ws", r.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// Run writes the final snapshot on the way out.
	<-stopped
}

// optionalFile returns path if it exists, else "" so loaders fall back to
// their built-in defaults.
func optionalFile(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
