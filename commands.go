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

	"github.com/google/uuid"

	"github.com/ShaneMarusczak/traffic-analysis/internal/api"
	"github.com/ShaneMarusczak/traffic-analysis/internal/capture"
	"github.com/ShaneMarusczak/traffic-analysis/internal/config"
	"github.com/ShaneMarusczak/traffic-analysis/internal/db"
	"github.com/ShaneMarusczak/traffic-analysis/internal/detect"
	"github.com/ShaneMarusczak/traffic-analysis/internal/estimate"
	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
	"github.com/ShaneMarusczak/traffic-analysis/internal/monitoring"
	"github.com/ShaneMarusczak/traffic-analysis/internal/report"
	"github.com/ShaneMarusczak/traffic-analysis/internal/run"
	"github.com/ShaneMarusczak/traffic-analysis/internal/timeutil"
	"github.com/ShaneMarusczak/traffic-analysis/internal/track"
	"github.com/ShaneMarusczak/traffic-analysis/internal/version"
)

func loadTuning(path string) *config.TuningConfig {
	var cfg *config.TuningConfig
	if path != "" {
		var err error
		cfg, err = config.LoadTuningConfig(path)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		source      = fs.String("source", "", "Video source: file path, device index or stream URL (required)")
		isFile      = fs.Bool("file", false, "Treat the source as a finite video file")
		duration    = fs.Duration("duration", 0, "Stop after this long (0 = until source ends or interrupted)")
		configPath  = fs.String("config", "", "Tuning config path (default: bundled defaults)")
		outDir      = fs.String("out-dir", ".", "Directory for the event log")
		dbPath      = fs.String("db", "", "SQLite archive path (empty = no archive)")
		listen      = fs.String("listen", "", "Status API listen address (empty = no API)")
		weights     = fs.String("weights", "yolov4.weights", "Detection model weights")
		modelConfig = fs.String("model-config", "yolov4.cfg", "Detection model network config")
		names       = fs.String("names", "coco.names", "Class names file")
		verbose     = fs.Bool("verbose", false, "Enable debug logging")
	)
	fs.Parse(args)

	if *source == "" {
		log.Fatal("-source is required")
	}
	monitoring.SetVerbose(*verbose)
	log.Printf("traffic-analysis %s (%s)", version.Version, version.GitSHA)

	cfg := loadTuning(*configPath)
	clock := timeutil.RealClock{}

	detector, err := detect.NewDNNDetector(detect.DNNOptions{
		Weights: *weights,
		Config:  *modelConfig,
		Names:   *names,
	}, cfg)
	if err != nil {
		log.Fatalf("failed to load detection model: %v", err)
	}

	src, err := capture.NewStreamSource(*source, *isFile, cfg, clock)
	if err != nil {
		detector.Close()
		log.Fatalf("failed to open source: %v", err)
	}

	writer, err := events.NewLogWriter(*outDir, clock.Now())
	if err != nil {
		src.Close()
		detector.Close()
		log.Fatalf("failed to create event log: %v", err)
	}
	defer writer.Close()

	var archive *db.DB
	if *dbPath != "" {
		archive, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer archive.Close()
	}

	ctrl := &run.Controller{
		Source:    src,
		Detector:  detector,
		Tracker:   track.NewTracker(cfg),
		Estimator: estimate.NewEstimator(cfg),
		Writer:    writer,
		Archive:   archive,
		RunID:     uuid.NewString(),
		Clock:     clock,
		Cfg:       cfg,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Optional status API, shut down when the run finishes.
	serverDone := make(chan struct{})
	if *listen != "" {
		server := &http.Server{
			Addr:    *listen,
			Handler: api.NewServer(ctrl).ServeMux(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("status API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("status API error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
			case <-serverDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("status API shutdown error: %v", err)
			}
		}()
	}

	summary, runErr := ctrl.Run(ctx, *duration)
	close(serverDone)
	wg.Wait()

	if runErr != nil {
		log.Fatalf("run %s failed after %d frames: %v", summary.RunID, summary.Frames, runErr)
	}

	log.Printf("event log written to %s", summary.LogPath)

	// Print the report straight away so a field session ends with the
	// numbers in the terminal.
	evs, err := events.ReadLog(summary.LogPath)
	if err != nil {
		log.Fatalf("failed to read event log back: %v", err)
	}
	if err := report.WriteText(os.Stdout, report.Compute(evs, cfg)); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
}

func reportCommand(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	var (
		logPath    = fs.String("log", "", "Event log to report on (required)")
		configPath = fs.String("config", "", "Tuning config path (default: bundled defaults)")
		outPath    = fs.String("out", "", "Write the text report here instead of stdout")
		htmlPath   = fs.String("html", "", "Also write an HTML chart to this path")
	)
	fs.Parse(args)

	if *logPath == "" {
		log.Fatal("-log is required")
	}
	cfg := loadTuning(*configPath)

	evs, err := events.ReadLog(*logPath)
	if err != nil {
		log.Fatalf("failed to read event log: %v", err)
	}
	dist := report.Compute(evs, cfg)

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create report file: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := report.WriteText(out, dist); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}

	if *htmlPath != "" {
		f, err := os.Create(*htmlPath)
		if err != nil {
			log.Fatalf("failed to create HTML report: %v", err)
		}
		defer f.Close()
		if err := report.WriteHTML(f, dist); err != nil {
			log.Fatalf("failed to render HTML report: %v", err)
		}
		log.Printf("HTML report written to %s", *htmlPath)
	}
}
