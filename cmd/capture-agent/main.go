package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthlink/internal/api"
	"github.com/banshee-data/depthlink/internal/archive"
	"github.com/banshee-data/depthlink/internal/capture"
	"github.com/banshee-data/depthlink/internal/config"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/fsutil"
	"github.com/banshee-data/depthlink/internal/journal"
	"github.com/banshee-data/depthlink/internal/sensors"
	"github.com/banshee-data/depthlink/internal/sink"
	"github.com/banshee-data/depthlink/internal/timeutil"
	"github.com/banshee-data/depthlink/internal/transport"
	"github.com/banshee-data/depthlink/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to the agent JSON config (default "+config.DefaultConfigPath+" if present)")
	listen         = flag.String("listen", ":8080", "HTTP listen address")
	destFlag       = flag.String("dest", "", "Destination as tcp://host:port or udp://host:port (overrides config)")
	captureRoot    = flag.String("capture-root", "", "Directory captures are saved under (overrides config)")
	journalPath    = flag.String("journal", "", "Path to the capture journal database (overrides config)")
	noJournal      = flag.Bool("no-journal", false, "Do not record outcomes or redeliver the backlog")
	gpsPort        = flag.String("gps-port", "", "NMEA GPS serial device (overrides config)")
	replayDir      = flag.String("replay", "", "Replay complete captures from this directory instead of live sensors")
	replayInterval = flag.Duration("replay-interval", time.Second, "Time between replayed frames")
	replayLoop     = flag.Bool("replay-loop", true, "Restart the replay after the last frame")
	replayMaxDim   = flag.Int("replay-max-dim", 0, "Downscale replayed images whose longer side exceeds this many pixels (0 keeps originals)")
	backlogLimit   = flag.Int("backlog-limit", 0, "Maximum undelivered captures to resend at startup (0 for all)")
	debugLog       = flag.Bool("debug", false, "Enable diagnostic logging")
	traceLog       = flag.Bool("trace", false, "Enable per-frame and per-attempt logging")
	showVersion    = flag.Bool("version", false, "Print the version and exit")
)

func loadConfig() (*config.AgentConfig, error) {
	if *configPath != "" {
		return config.LoadAgentConfig(*configPath)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadAgentConfig(config.DefaultConfigPath)
	}
	return config.DefaultAgentConfig(), nil
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.AgentConfig) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dest":
			cfg.Destination = destFlag
		case "capture-root":
			cfg.CaptureRoot = captureRoot
		case "journal":
			cfg.JournalPath = journalPath
		case "gps-port":
			cfg.GPSPort = gpsPort
		}
	})
}

func setLogWriters() {
	var diag, trace io.Writer
	if *debugLog || *traceLog {
		diag = os.Stderr
	}
	if *traceLog {
		trace = os.Stderr
	}
	capture.SetLogWriters(os.Stderr, diag, trace)
	transport.SetLogWriters(os.Stderr, diag, trace)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("capture-agent"))
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	setLogWriters()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	dest, ok, err := cfg.GetDestination()
	if err != nil {
		log.Fatalf("invalid destination: %v", err)
	}
	if !ok {
		log.Fatal("Destination is required (set -dest or \"destination\" in the config)")
	}

	loc, err := timeutil.LoadZone(cfg.GetTimeZone())
	if err != nil {
		log.Fatalf("failed to load time zone: %v", err)
	}
	session := timeutil.NewSessionClock(timeutil.RealClock{}, loc)

	root := cfg.GetCaptureRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		log.Fatalf("failed to create capture root: %v", err)
	}

	var j *journal.Journal
	if !*noJournal {
		j, err = journal.Open(cfg.GetJournalPath())
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer j.Close()
	}

	hub := sensors.NewHub()
	ccfg := capture.Config{
		Sources:     capture.Sources{Camera: hub, Depth: hub, Location: hub},
		Assembler:   frame.NewAssembler(frame.AssemblerConfig{Clock: session}),
		Sink:        sink.New(root, nil),
		Transport:   transport.New(cfg.GetTransportConfig()),
		Destination: dest,
		Retry:       cfg.GetRetryPolicy(),
		Persist:     cfg.GetPersistPolicy(),
		QueueSize:   cfg.GetQueueSize(),
	}
	if j != nil {
		ccfg.Recorder = j
	}
	coord, err := capture.New(ccfg)
	if err != nil {
		log.Fatalf("failed to create capture coordinator: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	coord.Start(ctx)
	log.Printf("%s sending to %s, saving under %s", version.String("capture-agent"), dest, root)

	if j != nil {
		tickets, err := drainBacklog(ctx, j, coord, fsutil.OSFileSystem{}, *backlogLimit)
		if err != nil {
			log.Printf("failed to drain backlog: %v", err)
		}
		if len(tickets) > 0 {
			log.Printf("resending %d undelivered captures", len(tickets))
			wg.Add(1)
			go func() {
				defer wg.Done()
				sent, failed := awaitBacklog(ctx, tickets)
				log.Printf("backlog: %d sent, %d still pending", sent, failed)
			}()
		}
	}

	var gps *sensors.GPS
	switch {
	case *replayDir != "":
		frames, incomplete, err := archive.Open(*replayDir, nil).LoadComplete()
		if err != nil {
			log.Fatalf("failed to load replay captures: %v", err)
		}
		for _, e := range incomplete {
			log.Printf("replay: skipping incomplete capture %s (missing %v, partial %v)", e.ID, e.Missing, e.Partial)
		}
		replay, err := sensors.NewReplaySource(sensors.ReplayConfig{
			Frames:  frames,
			Session: session,
			MaxDim:  *replayMaxDim,
			Loop:    *replayLoop,
		}, hub)
		if err != nil {
			log.Fatalf("failed to create replay source: %v", err)
		}
		log.Printf("replaying %d captures from %s", len(frames), *replayDir)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replay.Run(ctx, *replayInterval, timeutil.RealClock{}); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("replay stopped: %v", err)
			}
			log.Print("replay routine terminated")
		}()
	case cfg.GetGPSPort() != "":
		gps, err = sensors.OpenGPS(cfg.GetGPSPort(), cfg.GetGPSBaud(), hub)
		if err != nil {
			log.Fatalf("failed to open GPS: %v", err)
		}
		defer gps.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gps.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor GPS: %v", err)
			}
			log.Print("GPS routine terminated")
		}()
	default:
		log.Print("no replay or GPS configured; captures need a sensor feed to succeed")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiCfg := api.Config{Coordinator: coord, Hub: hub}
		if j != nil {
			apiCfg.Journal = j
		}
		if gps != nil {
			apiCfg.GPS = gps
		}
		mux := http.NewServeMux()
		api.NewServer(apiCfg).RegisterRoutes(mux)

		debug := tsweb.Debugger(mux)
		if j != nil {
			if err := j.AttachAdminRoutes(debug); err != nil {
				log.Printf("failed to attach journal admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	if err := coord.Close(); err != nil {
		log.Printf("failed to close coordinator: %v", err)
	}
	log.Printf("capture statistics: %+v", coord.Stats())
	log.Printf("Graceful shutdown complete")
}
