package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/config"
	"github.com/banshee-data/timealign/internal/metrics"
	"github.com/banshee-data/timealign/internal/monitor"
	"github.com/banshee-data/timealign/internal/producers"
	"github.com/banshee-data/timealign/internal/recorder"
	"github.com/banshee-data/timealign/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	dbFile        = flag.String("db", "timealign.db", "Path to the SQLite database file")
	listen        = flag.String("listen", monitor.DefaultAddress, "Monitor HTTP listen address")
	strategyName  = flag.String("strategy", "", "Alignment strategy override: hardware, software, window or event")
	gazeListen    = flag.String("gaze-listen", producers.DefaultGazeAddress, "UDP listen address for gaze bridge datagrams")
	serialPort    = flag.String("serial-port", "", "Serial device for vehicle telemetry, e.g. /dev/ttyUSB0")
	serialBaud    = flag.Int("serial-baud", 115200, "Serial baud rate for vehicle telemetry")
	replayFile    = flag.String("replay", "", "Replay a pcap capture of bridge traffic instead of listening live")
	replayFast    = flag.Bool("replay-fast", false, "Replay the capture without pacing")
	devMode       = flag.Bool("dev", false, "Run with synthetic producers instead of live sources")
	record        = flag.Bool("record", false, "Record frames and sync events to the database")
	driftPlots    = flag.Bool("drift-plots", false, "Collect drift plot data from startup")
	debugLog      = flag.Bool("debug", false, "Enable verbose alignment logging")
	migrationsDir = flag.String("migrations", "internal/recorder/migrations", "Path to the schema migrations directory")
)

// eventSink registers scene events with the engine and fans them out
// to the metrics counters and, when recording, the database.
type eventSink struct {
	engine *align.Engine
	m      *metrics.Metrics
	db     *recorder.DB
}

func (s *eventSink) RegisterSyncEvent(eventType string, timestamp float64, metadata map[string]string) (align.SyncEvent, error) {
	ev, err := s.engine.RegisterSyncEvent(eventType, timestamp, metadata)
	if err != nil {
		return ev, err
	}
	s.m.RecordSyncEvent()
	if s.db != nil {
		if err := s.db.RecordSyncEvent(context.Background(), ev); err != nil {
			log.Printf("Failed to record sync event %s: %v", ev.ID, err)
		}
	}
	return ev, nil
}

// devProducers builds the synthetic stream set for -dev: a
// hardware-stamped gaze stream with skew and drift, a slow drifting
// speech stream, a telemetry stream with dropout, and a sparse UI
// event stream.
func devProducers() []align.Producer {
	return []align.Producer{
		producers.NewSynthetic(producers.SyntheticConfig{
			StreamID:         "camera-gaze",
			Kind:             "gaze",
			Interval:         20 * time.Millisecond,
			SkewMs:           40,
			DriftMsPerSample: 0.02,
			Hardware:         true,
		}),
		producers.NewSynthetic(producers.SyntheticConfig{
			StreamID:         "speech-transcript",
			Kind:             "speech",
			Interval:         250 * time.Millisecond,
			SkewMs:           -25,
			DriftMsPerSample: -0.01,
		}),
		producers.NewSynthetic(producers.SyntheticConfig{
			StreamID: "vehicle-telemetry",
			Kind:     "serial",
			Interval: 50 * time.Millisecond,
			SkewMs:   10,
			Dropout:  40,
		}),
		producers.NewSynthetic(producers.SyntheticConfig{
			StreamID: "ui-events",
			Kind:     "event",
			Interval: 500 * time.Millisecond,
			SkewMs:   5,
		}),
	}
}

// Main
func main() {
	flag.Parse()

	// The migrate subcommand manages the recording schema and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		recorder.RunMigrateCommand(args[1:], *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Monitor listen address is required")
	}
	log.Printf("timealign %s", version.String())
	if *debugLog {
		align.SetDebugLogger(os.Stderr)
	}

	cfg := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		cfg = loaded
		log.Printf("Loaded tuning config from %s", *configFile)
	}
	if *strategyName != "" {
		cfg.Strategy = strategyName
	}

	strategy, err := cfg.NewStrategy()
	if err != nil {
		log.Fatalf("Failed to build alignment strategy: %v", err)
	}

	engine, err := align.NewEngine(align.EngineConfig{
		Strategy:               strategy,
		BufferCapacity:         cfg.GetBufferCapacity(),
		Tolerance:              cfg.GetToleranceMs(),
		ImmediateSync:          cfg.GetImmediateSync(),
		SyncInterval:           cfg.GetSyncInterval(),
		QualityChangeThreshold: cfg.GetQualityChangeThreshold(),
		QualitySmoothing:       cfg.GetQualitySmoothing(),
		HistorySize:            cfg.GetFrameHistorySize(),
	})
	if err != nil {
		log.Fatalf("Failed to create alignment engine: %v", err)
	}
	log.Printf("Alignment engine running the %s strategy", cfg.GetStrategy())

	var db *recorder.DB
	if *record {
		db, err = recorder.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Printf("Recording frames and sync events to %s", *dbFile)
	}

	m := metrics.NewMetrics()

	coordinator, err := align.NewCoordinator(align.CoordinatorConfig{
		Engine:        engine,
		TickInterval:  cfg.GetTickInterval(),
		StopProducers: cfg.GetStopProducers(),
		OnPass: func(frame align.Frame, ran bool, elapsed time.Duration) {
			if !ran {
				m.RecordPassSkipped()
				return
			}
			m.RecordPass(frame.Metrics.Quality, elapsed.Seconds())
		},
	})
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	// Per-result metrics. Callbacks are serialized on the engine's
	// dispatch goroutine, so the dropped-sample cursor needs no lock.
	var droppedSeen uint64
	engine.OnSync(func(frame align.Frame) {
		for _, r := range frame.Results {
			d := r.AlignedTimestamp - frame.Target
			if d < 0 {
				d = -d
			}
			m.RecordResult(r.Confidence, d)
			m.SetClockState(r.StreamID, r.Offset, r.Drift)
		}
		if frame.Metrics.DroppedSamples > droppedSeen {
			m.AddSamplesDropped(frame.Metrics.DroppedSamples - droppedSeen)
			droppedSeen = frame.Metrics.DroppedSamples
		}
	})
	engine.OnError(func(ae align.AlignmentError) {
		m.RecordAlignmentError(ae.StreamID)
		log.Printf("Alignment error: %v", &ae)
	})

	if db != nil {
		engine.OnSync(func(frame align.Frame) {
			if err := db.RecordFrame(context.Background(), frame); err != nil {
				log.Printf("Failed to record frame %s: %v", frame.ID, err)
			}
		})
	}

	plotter := monitor.NewDriftPlotter()
	engine.OnSync(plotter.Sample)
	if *driftPlots {
		dir := monitor.MakePlotOutputDir("plots", *replayFile)
		if err := plotter.Start(dir); err != nil {
			log.Fatalf("Failed to start drift plot capture: %v", err)
		}
		log.Printf("Collecting drift plot data in %s", dir)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := &eventSink{engine: engine, m: m, db: db}

	var sources []align.Producer
	switch {
	case *devMode:
		sources = devProducers()
	case *replayFile != "":
		sources = append(sources, producers.NewReplay(producers.ReplayConfig{
			Path:   *replayFile,
			Fast:   *replayFast,
			Events: sink,
		}))
	default:
		sources = append(sources, producers.NewGaze(producers.GazeConfig{
			Address: *gazeListen,
			Events:  sink,
		}))
	}
	if *serialPort != "" && !*devMode {
		sources = append(sources, producers.NewSerial(producers.SerialConfig{
			Path:    *serialPort,
			Options: producers.PortOptions{BaudRate: *serialBaud},
		}))
	}

	for _, p := range sources {
		p.OnData(func(s align.StreamSample) { m.RecordSampleIngested(s.StreamID) })
		if err := coordinator.AddStream(ctx, p); err != nil {
			log.Fatalf("Failed to start %s producer: %v", p.ID(), err)
		}
		log.Printf("Started %s producer (%s)", p.ID(), p.Kind())
	}
	m.SetActiveStreams(len(coordinator.Streams()))

	coordinator.Start()

	// Monitor HTTP server goroutine
	monitorServer := monitor.NewServer(monitor.Config{
		Address: *listen,
		Engine:  engine,
		DB:      db,
		Plotter: plotter,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitorServer.Start(ctx); err != nil {
			log.Printf("Monitor server error: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// Wait for a signal, then stop in dependency order: ticks first,
	// then sources, then the engine so queued callbacks flush before
	// the database closes. The monitor drains in parallel; wg.Wait
	// holds shutdown open until it finishes.
	<-ctx.Done()
	log.Print("Shutting down...")

	coordinator.Stop()
	for _, p := range sources {
		if err := p.Stop(); err != nil {
			log.Printf("Failed to stop %s producer: %v", p.ID(), err)
		}
	}

	stats := engine.Stats()
	engine.Close()

	// Close drained the callback queue, so every sampled frame has
	// reached the plotter by now.
	if *driftPlots {
		plotter.Stop()
		if n, err := plotter.GeneratePlots(); err != nil {
			log.Printf("Failed to generate drift plots: %v", err)
		} else if n > 0 {
			log.Printf("Wrote %d drift plots to %s", n, plotter.OutputDir())
		}
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}

	wg.Wait()
	log.Printf("Ingested %s samples across %d streams (%s passes deferred), final quality %.2f",
		align.FormatWithCommas(int64(stats.SamplesIngested)), stats.StreamCount,
		align.FormatWithCommas(int64(stats.DeferredPasses)), stats.Metrics.Quality)
	log.Printf("Graceful shutdown complete")
}
