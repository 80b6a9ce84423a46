/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then parse flags
  2. Initialize SQLite store
  3. Build the attendance service on top of the store
  4. Create API handler and router
  5. Start the end-of-day scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port       HTTP server port
  -db         SQLite database path; ":memory:" for in-memory database
  -workers    Pipeline units in flight
  -scheduler  Enable the end-of-day scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/attendance.db"
  ./server -db=":memory:" -scheduler=false
  PORT=3000 WORKERS=16 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	workers := flag.Int("workers", cfg.Workers, "Pipeline units processed concurrently")
	schedulerEnabled := flag.Bool("scheduler", cfg.SchedulerEnabled, "Run the end-of-day scheduler")
	flag.Parse()

	if *dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	svc := attendance.NewService(attendance.Deps{
		Records:   store,
		Events:    store,
		Policies:  store,
		Employees: store,
		Leaves:    store,
		Calendar:  store,
		Ledger:    generic.NewLedger(store),
		Audit:     store,
	}, attendance.Options{
		Workers:      *workers,
		FetchTimeout: cfg.FetchTimeout,
	})

	handler := api.NewHandler(store, svc)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	scheduler := api.NewEndOfDayScheduler(store, svc)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.LookbackDays = cfg.SchedulerLookback
	scheduler.Location = cfg.Location()
	scheduler.Enabled = *schedulerEnabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s", *port)
		log.Printf("API available at http://localhost:%s/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
