package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.4.0"

func printVersion() {
	fmt.Printf("framegov v%s\n", version)
	fmt.Println("Adaptive frame rate limiter for mpv")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  framegov [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that attaches to mpv's JSON IPC socket, watches the dropped-frame")
	fmt.Println("  counter and limits the playback frame rate with an fps video filter so")
	fmt.Println("  playback stays smooth on slow hardware.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -mpv-socket string")
	fmt.Printf("        mpv IPC socket, as given to --input-ipc-server (default %q)\n", defaultMPVSocketPath)
	fmt.Println()
	fmt.Println("  -mpv-timeout-ms int")
	fmt.Printf("        Timeout for a single mpv request in ms (default %d)\n", defaultMPVTimeoutMS)
	fmt.Println()
	fmt.Println("  -initial-sample-count int")
	fmt.Printf("        Calibration samples, one per second (default %d)\n", defaultInitialSampleCount)
	fmt.Println()
	fmt.Println("  -sample-interval float")
	fmt.Printf("        Steady-state sampling period in seconds (default %.1f)\n", defaultSampleInterval.Seconds())
	fmt.Println()
	fmt.Println("  -sample-count int")
	fmt.Printf("        Steady-state window size, at least 3 (default %d)\n", defaultSampleCount)
	fmt.Println()
	fmt.Println("  -fps-step int")
	fmt.Printf("        Target frame rate granularity (default %d)\n", defaultFPSStep)
	fmt.Println()
	fmt.Println("  -min-fps int")
	fmt.Printf("        Lowest frame rate the limiter will select (default %d)\n", defaultMinFPS)
	fmt.Println()
	fmt.Println("  -warning-threshold int")
	fmt.Printf("        Warn when the target falls below this rate (default %d)\n", defaultWarningThreshold)
	fmt.Println()
	fmt.Println("  -initial-delay float")
	fmt.Printf("        Seconds to wait after file load before calibrating (default %.1f)\n", defaultInitialDelay.Seconds())
	fmt.Println()
	fmt.Println("  -drop-threshold float")
	fmt.Printf("        Dropped frames per second considered significant (default %.1f)\n", defaultDropThreshold)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Control socket for framegov-ctl (default \"/tmp/framegov.sock\")")
	fmt.Println()
	fmt.Println("  -http-addr string")
	fmt.Println("        Telemetry listen address (default \"127.0.0.1\")")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        Telemetry port for /ws, /metrics and /healthz; 0 disables (default 3011)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start mpv with IPC enabled, then attach")
	fmt.Println("  mpv --input-ipc-server=/tmp/mpv.sock video.mkv &")
	fmt.Println("  framegov")
	fmt.Println()
	fmt.Println("  # Key bindings (mpv input.conf)")
	fmt.Println("  F5 script-message framegov-reset")
	fmt.Println("  F6 script-message framegov-toggle")
	fmt.Println("  F7 script-message framegov-diagnostic")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath         = flag.String("config", "", "Path to YAML config file")
		mpvSocket          = flag.String("mpv-socket", defaultMPVSocketPath, "mpv IPC socket path")
		mpvTimeoutMS       = flag.Int("mpv-timeout-ms", defaultMPVTimeoutMS, "Timeout for a single mpv request in ms")
		initialSampleCount = flag.Int("initial-sample-count", defaultInitialSampleCount, "Calibration samples")
		sampleInterval     = flag.Float64("sample-interval", defaultSampleInterval.Seconds(), "Steady-state sampling period in seconds")
		sampleCount        = flag.Int("sample-count", defaultSampleCount, "Steady-state window size")
		fpsStep            = flag.Int("fps-step", defaultFPSStep, "Target frame rate granularity")
		minFPS             = flag.Int("min-fps", defaultMinFPS, "Lowest target frame rate")
		warningThreshold   = flag.Int("warning-threshold", defaultWarningThreshold, "Low-performance warning threshold")
		initialDelay       = flag.Float64("initial-delay", defaultInitialDelay.Seconds(), "Seconds before calibration starts")
		dropThreshold      = flag.Float64("drop-threshold", defaultDropThreshold, "Significant drops per second")
		ipcSocketPath      = flag.String("ipc-socket", "/tmp/framegov.sock", "Control socket path")
		httpAddr           = flag.String("http-addr", "127.0.0.1", "Telemetry listen address")
		httpPort           = flag.Int("http-port", 3011, "Telemetry port (0 disables)")
		logLevelStr        = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion        = flag.Bool("version", false, "Print version and exit")
		showHelp           = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var o FlagOverrides
	if set["mpv-socket"] {
		o.MPVSocketPath = mpvSocket
	}
	if set["mpv-timeout-ms"] {
		o.MPVTimeoutMS = mpvTimeoutMS
	}
	if set["initial-sample-count"] {
		o.InitialSampleCount = initialSampleCount
	}
	if set["sample-interval"] {
		o.SampleIntervalSec = sampleInterval
	}
	if set["sample-count"] {
		o.SampleCount = sampleCount
	}
	if set["fps-step"] {
		o.FPSStep = fpsStep
	}
	if set["min-fps"] {
		o.MinFPS = minFPS
	}
	if set["warning-threshold"] {
		o.WarningThreshold = warningThreshold
	}
	if set["initial-delay"] {
		o.InitialDelaySec = initialDelay
	}
	if set["drop-threshold"] {
		o.DropThreshold = dropThreshold
	}
	if set["ipc-socket"] {
		o.IPCSocketPath = ipcSocketPath
	}
	if set["http-addr"] {
		o.HTTPAddress = httpAddr
	}
	if set["http-port"] {
		o.HTTPPort = httpPort
	}
	if set["log-level"] {
		o.LogLevel = logLevelStr
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel, os.Stderr)

	ctlCfg := cfg.ToControllerConfig()
	logger.Debug("starting framegov", "version", version)
	logger.Debug("configuration",
		"mpv_socket", cfg.MPV.SocketPath,
		"mpv_timeout_ms", cfg.MPV.TimeoutMS,
		"initial_sample_count", ctlCfg.InitialSampleCount,
		"sample_interval", ctlCfg.SampleInterval.String(),
		"sample_count", ctlCfg.SampleCount,
		"fps_step", ctlCfg.FPSStep,
		"min_fps", ctlCfg.MinFPS,
		"warning_threshold", ctlCfg.WarningThreshold,
		"initial_delay", ctlCfg.InitialDelay.String(),
		"drop_threshold", ctlCfg.DropThreshold,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
	)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	client, err := NewMPVClient(sigCtx, cfg.MPV, logger)
	if err != nil {
		logger.Error("failed to connect to mpv", "error", err, "tip", "start mpv with --input-ipc-server")
		os.Exit(1)
	}
	defer client.Close()

	// Cancelled when mpv goes away so every component shuts down with it.
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	events := make(chan Event, 64)
	broadcasts := make(chan StateBroadcast, 256)
	metrics := NewMetrics()

	g, gctx := errgroup.WithContext(ctx)

	sched := newTimerScheduler(gctx, events)
	state := NewDaemonState(ctlCfg)

	g.Go(func() error {
		runDaemon(gctx, events, client, sched, ctlCfg, state, broadcasts, logger)
		return nil
	})

	g.Go(func() error {
		err := runMPVEventPump(gctx, client, cfg.Commands, events, logger)
		cancel()
		if errors.Is(err, errMPVClosed) {
			logger.Info("mpv exited")
			return nil
		}
		return err
	})

	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), os.Getuid(), events, logger)
	})

	var hub *Hub
	if cfg.HTTP.Port > 0 {
		ws := NewStateServer(logger, events, HubConfig{})
		hub = ws.Hub()

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Address, cfg.HTTP.Port, newTelemetryMux(ws, metrics), logger)
		})
	}

	g.Go(func() error {
		RunBroadcaster(gctx, hub, broadcasts, metrics, logger)
		return nil
	})

	logger.Info("listening",
		"mpv", cfg.MPV.SocketPath,
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
	)

	if err := g.Wait(); err != nil {
		logger.Error("framegov stopped", "error", err)
		os.Exit(1)
	}

	// Leave mpv at its native rate if it is still running.
	if client.Err() == nil {
		if err := client.ClearRateFilter(); err != nil {
			logger.Debug("could not clear rate filter on exit", "error", err)
		}
		if err := client.ClearDisplayFPS(); err != nil {
			logger.Debug("could not clear display fps on exit", "error", err)
		}
	}
	logger.Info("shutting down")
}
