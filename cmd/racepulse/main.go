// Command racepulse is the race-telemetry platform's single process: it
// wires the Connection Resilience Manager, Data Aggregation Service,
// Position Tracker, Tactical Event Detector, Event Bus, WebSocket Session
// Manager, and Notification Dispatcher into one pipeline and serves them
// behind an HTTP surface, following control_plane/main.go's wiring and
// startup-banner style.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/racepulse/core/internal/config"
	"github.com/racepulse/core/internal/crm"
	"github.com/racepulse/core/internal/store"
	"golang.org/x/sync/errgroup"
)

// tcpDialer is the production crm.Dialer: a bare TCP connect used purely
// to measure reachability and latency, not to speak any endpoint-specific
// protocol (that lives in whatever adapter feeds /ingest).
type tcpDialer struct {
	dialer net.Dialer
}

func (d tcpDialer) Dial(ctx context.Context, address string) (time.Duration, error) {
	start := time.Now()
	conn, err := d.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("racepulse: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := newStore(ctx)
	archive := newArchiveStore(ctx)
	if archive != nil {
		defer archive.Close()
	}

	raceID := os.Getenv("RACE_ID")
	if raceID == "" {
		raceID = "default"
	}
	pipeline := NewPipeline(cfg, raceID, tcpDialer{}, st, archive)
	registerDemoEndpoints(pipeline)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", pipeline.handleWebSocket(ctx))
	mux.HandleFunc("/ingest", pipeline.handleIngest)
	mux.HandleFunc("/notifications/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			pipeline.handleListSubscriptions(w, r)
			return
		}
		pipeline.handleSubscribe(w, r)
	})

	addr := ":8090"
	if v := os.Getenv("RACEPULSE_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux}

	printBanner(cfg, addr)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		pipeline.Run(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		log.Printf("racepulse: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("racepulse: fatal error: %v", err)
	}
	log.Println("racepulse: shutdown complete")
}

// loadConfig reads CONFIG_FILE if set, otherwise falls back to pure
// environment-variable configuration — matching control_plane/main.go's
// own env-var-only style when no file is given.
func loadConfig() (config.Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return config.FromEnv(), nil
	}
	return config.LoadFile(path)
}

func newStore(ctx context.Context) store.Store {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		log.Println("REDIS_ADDR not set, using in-memory store (single-node only)")
		return store.NewMemoryStore()
	}
	rs, err := store.NewRedisStore(ctx, redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		log.Fatalf("racepulse: connect redis at %s: %v", redisAddr, err)
	}
	log.Printf("racepulse: connected to redis at %s", redisAddr)
	return rs
}

func newArchiveStore(ctx context.Context) *store.ArchiveStore {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	archive, err := store.NewArchiveStore(ctx, dsn)
	if err != nil {
		log.Printf("racepulse: archive store unavailable, continuing without it: %v", err)
		return nil
	}
	log.Println("racepulse: tactical event archival enabled")
	return archive
}

// registerDemoEndpoints seeds CRM with the upstream endpoints named by
// TELEMETRY_ENDPOINTS, a comma-separated host:port list, matching
// control_plane/main.go's convention of reading pool shape from the
// environment rather than hardcoding it.
func registerDemoEndpoints(p *Pipeline) {
	raw := os.Getenv("TELEMETRY_ENDPOINTS")
	if raw == "" {
		return
	}
	for i, addr := range splitAndTrim(raw) {
		role := crm.RoleFallback
		if i == 0 {
			role = crm.RolePrimary
		}
		id := fmt.Sprintf("endpoint-%d", i)
		p.RegisterEndpoint(id, addr, role, 1.0, 5, 0.9, "telemetry-feed")
	}
}

func printBanner(cfg config.Config, addr string) {
	fmt.Println("==================================================")
	fmt.Println("RACEPULSE TELEMETRY PLATFORM")
	fmt.Println("==================================================")
	fmt.Printf("Listen address:        %s\n", addr)
	fmt.Printf("Max connections (WSM): %d\n", cfg.MaxConnections)
	fmt.Printf("Batch size (EB):       %d\n", cfg.BatchSize)
	fmt.Printf("Detection interval:    %v\n", cfg.DetectionInterval)
	fmt.Println("==================================================")
}
