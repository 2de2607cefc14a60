package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/dorianinnovations/numina-collective/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 15 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	log.Println("Starting Numina collective aggregation server...")

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration: port=%s data_dir=%s memory_limit=%dMB in_memory=%v",
		cfg.Port, cfg.DataDir, cfg.MaxMemoryMB, cfg.InMemory)

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	_, engine, runner, batcher := server.InitializePipeline(store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := batcher.Start(ctx); err != nil {
		log.Fatalf("Failed to start event batcher: %v", err)
	}

	runner.Start()
	log.Println("Scheduled aggregation runner started")

	hub := server.NewInsightsHub()
	handler := server.NewHandler(store, engine, runner, batcher)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	log.Println("WebSocket hub started for real-time insight streaming")

	g.Go(func() error {
		server.BroadcastInsights(gctx, engine, hub)
		return nil
	})
	log.Println("Insight broadcaster started")

	g.Go(func() error {
		server.RunBadgerGC(gctx, store)
		return nil
	})

	router := mux.NewRouter()

	// CORS middleware for API access
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/events", handler.HandleEvents).Methods("POST")
	api.HandleFunc("/aggregate/emotions", handler.HandleAggregateEmotions).Methods("GET")
	api.HandleFunc("/aggregate/demographics", handler.HandleDemographics).Methods("GET")
	api.HandleFunc("/insights", handler.HandleInsights).Methods("GET")
	api.HandleFunc("/snapshot", handler.HandleSnapshot).Methods("GET")
	api.HandleFunc("/scheduler/start", handler.HandleSchedulerStart).Methods("POST")
	api.HandleFunc("/scheduler/stop", handler.HandleSchedulerStop).Methods("POST")
	api.HandleFunc("/scheduler/trigger", handler.HandleSchedulerTrigger).Methods("POST")
	api.HandleFunc("/scheduler/interval", handler.HandleSchedulerInterval).Methods("PUT")
	api.HandleFunc("/scheduler/status", handler.HandleSchedulerStatus).Methods("GET")
	api.HandleFunc("/scheduler/stats", handler.HandleSchedulerStats).Methods("GET")
	api.HandleFunc("/scheduler/stats/reset", handler.HandleSchedulerStatsReset).Methods("POST")
	api.HandleFunc("/cache/flush", handler.HandleCacheFlush).Methods("POST")
	api.HandleFunc("/health", handler.HandleHealth).Methods("GET")
	api.HandleFunc("/stats", handler.HandleStats).Methods("GET")
	api.HandleFunc("/ws", handler.HandleWebSocket(hub)).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received...")

	// Stop the scheduler first so no new cycles start mid-shutdown
	runner.Stop()

	// Final flush of any buffered events before the store closes
	if err := batcher.Stop(); err != nil {
		log.Printf("Final event flush failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Println("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	// Background tasks share gctx, which is cancelled with the signal context
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("Server exited cleanly")
}
