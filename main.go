// Command calibrated runs the calibration service: an HTTP API over
// sqlite-stored calibration tables, with an optional serial capture loop that
// appends bench samples to a table as they arrive.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/calibrate.report/internal/api"
	"github.com/banshee-data/calibrate.report/internal/capture"
	"github.com/banshee-data/calibrate.report/internal/config"
	"github.com/banshee-data/calibrate.report/internal/db"
	"github.com/banshee-data/calibrate.report/internal/monitoring"
)

var (
	configPath = flag.String("config", "", "Path to a JSON service config (optional)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	devMode    = flag.Bool("dev", false, "Run in dev mode: replay capture fixtures instead of opening a serial port")
	debug      = flag.Bool("debug", false, "Log every capture sample")
)

// storeSample appends one bench sample to the capture table.
func storeSample(d *db.DB, table *db.CalibrationTable, s capture.Sample) error {
	p, err := d.AppendPoint(table.ID, s.Raw, s.Reference)
	if err != nil {
		return err
	}
	monitoring.Debugf("captured point %d: raw=%.4f reference=%.4f", p.Index, s.Raw, s.Reference)
	return nil
}

// Main
func main() {
	flag.Parse()
	monitoring.SetDebug(*debug)

	cfg := config.EmptyServiceConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadServiceConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	addr := cfg.GetListen()
	if *listen != "" {
		addr = *listen
	}

	database, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	if err := database.MigrateUp(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Optional serial capture source: a real port from config, or replayed
	// fixtures in dev mode.
	var port capture.PortInterface
	if *devMode {
		data, err := os.ReadFile("fixtures.txt")
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		port = capture.NewMockPort(data)
	} else if cfg.GetCapturePort() != "" {
		port, err = capture.NewPort(cfg.GetCapturePort(), cfg.GetCaptureBaud())
		if err != nil {
			log.Fatalf("failed to open capture port: %v", err)
		}
	}

	// Create a wait group for the HTTP server and the capture routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if port != nil {
		defer port.Close()

		captureTable, err := database.EnsureTable(cfg.GetCaptureTable(), cfg.GetUnits(), cfg.GetLimitToRange())
		if err != nil {
			log.Fatalf("failed to prepare capture table: %v", err)
		}
		log.Printf("capturing bench samples into table %q (%s)", captureTable.Name, captureTable.ID)

		// run the monitor routine to manage IO on the capture port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := port.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor capture port: %v", err)
			}
			log.Print("capture monitor terminated")
		}()

		// consume parsed samples and append them to the capture table
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case s := <-port.Samples():
					if err := storeSample(database, captureTable, s); err != nil {
						log.Printf("error storing sample: %v", err)
					}
				case <-ctx.Done():
					log.Print("capture store routine terminated")
					return
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		apiMux := api.NewServer(database, cfg.GetUnits(), cfg.GetLimitToRange()).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
}
