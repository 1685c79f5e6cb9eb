// Command rttydec decodes a 2x-oversampled ITA2 RTTY bit stream into text
// and distributes it to the console, a forward connection, telnet clients,
// an MQTT broker, and a SQLite archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rttydec/archive"
	"rttydec/config"
	"rttydec/decoder"
	"rttydec/sink"
	"rttydec/source"
	"rttydec/stats"
	"rttydec/telnet"

	"golang.org/x/term"
)

// Version will be set at build time
var Version = "dev"

const (
	defaultConfigPath = "data/config/rttydec.yaml"
	envConfigPath     = "RTTYDEC_CONFIG_PATH"
)

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from env/default locations.
// Key aspects: Tries the env override first, then the default path; when no
// file exists anywhere the built-in defaults are used.
// Upstream: main startup.
// Downstream: config.Load and os.IsNotExist.
func loadConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	cfg := config.Default()
	return &cfg, "built-in defaults (tried " + strings.Join(candidates, ", ") + ")", nil
}

func main() {
	os.Exit(run())
}

// Purpose: Wire every component, run the decoder, and shut down cleanly.
// Key aspects: Returns the process exit code so deferred cleanup always runs.
// Upstream: main.
// Downstream: setupLogging, newDashboard, startOutputs, supervisor.run.
func run() int {
	cfg, configSource, err := loadConfig()
	if err != nil {
		log.Printf("Error loading config: %v", err)
		return 1
	}

	uiMode := strings.ToLower(strings.TrimSpace(cfg.UI.Mode))
	var ui *dashboard
	switch uiMode {
	case config.UIHeadless:
	case config.UITview:
		if isStdoutTTY() {
			ui = newDashboard(true, cfg.Station, cfg.UI.TextLines)
		}
	}

	// Decoded text owns stdout in headless mode, so log lines go to stderr.
	fanout, logErr := setupLogging(cfg.Logging, os.Stderr)
	defer fanout.Close()
	log.SetFlags(0)
	log.SetOutput(fanout)
	if logErr != nil {
		log.Printf("Warning: file logging disabled: %v", logErr)
	}
	if ui != nil {
		ui.WaitReady()
		defer ui.Stop()
		// Dashboard panes are already time ordered; skip the timestamp prefix.
		fanout.SetConsoleSink(ui.SystemWriter(), false)
		ui.SetStats([]string{"Initializing..."})
	} else if uiMode == config.UITview {
		log.Printf("UI disabled (tview requires an interactive console)")
	}

	log.Printf("rttydec v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)
	if ui == nil {
		cfg.Print(os.Stderr)
	} else {
		log.Printf("Station %s, source %s", cfg.Station, cfg.SourceLabel())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := stats.NewTracker()
	fanout.OnRollover(func(prevDay time.Time) {
		now := time.Now().UTC()
		for _, line := range tracker.SnapshotLines() {
			fanout.WriteFileOnlyLine("Summary "+prevDay.Format(logFileDateLayout)+": "+line, now)
		}
	})

	outs, err := startOutputs(ctx, cfg, tracker, ui)
	if err != nil {
		log.Printf("Error starting outputs: %v", err)
		return 1
	}
	defer outs.close()
	if err := checkOutputs(outs); err != nil {
		log.Printf("Warning: %v; decoded text is only counted", err)
	}

	sup := newSupervisor(nil, nil, cfg.Source.Reconnect)
	sup.buildSink = outs.build
	sup.openSource = func(ctx context.Context) (source.Feed, error) {
		return source.Open(ctx, cfg.Source, os.Stdin)
	}
	sup.onRestart = tracker.IncrementRestarts

	// Shutdown: a signal or the operator leaving the dashboard cancels the
	// run and closes the feed so a blocked read returns.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	var uiDone <-chan struct{}
	if ui != nil {
		uiDone = ui.Done()
	}
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v", sig)
		case <-uiDone:
			log.Printf("Dashboard closed")
		case <-ctx.Done():
			return
		}
		log.Println("Shutting down gracefully...")
		cancel()
		sup.closeFeed()
	}()

	multi, ok := initialSink(ctx, sup, outs)
	if !ok {
		return 0
	}
	feed, err := initialFeed(ctx, sup, cfg)
	if err != nil {
		log.Printf("Error opening source: %v", err)
		return 1
	}
	if feed == nil {
		return 0
	}
	log.Printf("Reading samples from %s", feed)

	sup.loop = decoder.NewLoop(feed, multi, decoder.Options{
		ReadSize:     cfg.Source.ReadSize,
		Observer:     tracker,
		LogAmbiguous: cfg.Decoder.LogAmbiguous,
	})

	go displayStats(ctx, time.Duration(cfg.Stats.IntervalSeconds)*time.Second, tracker, outs, ui, fanout)

	if cfg.Telnet.Enabled {
		log.Printf("Connect via: telnet localhost %d", cfg.Telnet.Port)
	}
	log.Println("Decoder is running. Press Ctrl+C to stop.")

	runErr := sup.run(ctx)
	cancel()
	sup.closeFeed()
	log.Printf("Final stats: %s", strings.Join(tracker.SnapshotLines(), " | "))
	if runErr != nil {
		log.Printf("Decoder stopped: %v", runErr)
		return 1
	}
	return 0
}

// initialSink builds the first fan-out, redialing the forward target with
// backoff when it is not reachable yet. ok is false only on shutdown.
func initialSink(ctx context.Context, sup *supervisor, outs *outputs) (decoder.Sink, bool) {
	multi, err := outs.build(ctx)
	if err == nil {
		return multi, true
	}
	log.Printf("Forward unavailable: %v", err)
	ok := sup.retry(ctx, "Forward redial", func(ctx context.Context) error {
		s, err := outs.build(ctx)
		if err != nil {
			return err
		}
		multi = s
		return nil
	})
	return multi, ok
}

// initialFeed opens the configured source. Without reconnect the first
// failure is fatal; with it the open is retried until shutdown, which is
// reported as a nil feed and nil error.
func initialFeed(ctx context.Context, sup *supervisor, cfg *config.Config) (source.Feed, error) {
	feed, err := sup.openSource(ctx)
	if err == nil {
		if sup.setFeed(ctx, feed) != nil {
			return nil, nil
		}
		return feed, nil
	}
	if !cfg.Source.Reconnect {
		return nil, err
	}
	log.Printf("Source unavailable: %v", err)
	var opened source.Feed
	ok := sup.retry(ctx, "Source reconnect", func(ctx context.Context) error {
		f, err := sup.openSource(ctx)
		if err != nil {
			return err
		}
		opened = f
		return sup.setFeed(ctx, f)
	})
	if !ok {
		return nil, nil
	}
	return opened, nil
}

// Purpose: Start the optional outputs from config.
// Key aspects: The telnet listener failing to bind is fatal; archive and MQTT
// failures are logged and that output is skipped.
// Upstream: run.
// Downstream: telnet.NewServer, archive.NewWriter, sink.ConnectMQTT.
func startOutputs(ctx context.Context, cfg *config.Config, tracker *stats.Tracker, ui *dashboard) (*outputs, error) {
	outs := newOutputs(cfg.Forward, tracker)
	outs.ui = ui

	if cfg.Output.Console && ui == nil {
		outs.console = sink.NewWriter(os.Stdout, cfg.Output.FlushAll, cfg.Output.FlushNewline)
	}

	if cfg.Archive.Enabled {
		w, err := archive.NewWriter(ctx, cfg.Archive, cfg.Station)
		if err != nil {
			log.Printf("Warning: archive disabled: %v", err)
		} else {
			w.Start()
			outs.archive = w
			log.Printf("Archiving decoded lines to %s", cfg.Archive.DBPath)
		}
	}

	if cfg.MQTT.Enabled {
		m, err := sink.ConnectMQTT(cfg.MQTT, cfg.Station)
		if err != nil {
			log.Printf("Warning: MQTT disabled: %v", err)
		} else {
			outs.mqtt = m
			log.Printf("Publishing decoded lines to %s topic %s", cfg.MQTT.Broker, cfg.MQTT.Topic)
		}
	}

	if cfg.Telnet.Enabled {
		srv := telnet.NewServer(telnet.ServerOptions{
			Port:           cfg.Telnet.Port,
			MaxConnections: cfg.Telnet.MaxConnections,
			WelcomeMessage: cfg.Telnet.WelcomeMessage,
			Station:        cfg.Station,
			ReplayLines:    cfg.Telnet.ReplayLines,
			HistoryLines:   cfg.Telnet.HistoryLines,
			ClientBuffer:   cfg.Telnet.ClientBuffer,
			Transport:      cfg.Telnet.Transport,
		})
		if err := srv.Start(ctx); err != nil {
			outs.close()
			return nil, fmt.Errorf("telnet: %w", err)
		}
		outs.telnet = srv
	}
	return outs, nil
}

// Purpose: Publish the counters on a fixed interval.
// Key aspects: With the dashboard the block goes to the stats pane and only
// to the log file; headless it is logged normally.
// Upstream: run.
// Downstream: stats.Tracker.SnapshotLines, outputs.statusLines.
func displayStats(ctx context.Context, interval time.Duration, tracker *stats.Tracker, outs *outputs, ui *dashboard, fanout *logFanout) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lines := append(tracker.SnapshotLines(), outs.statusLines()...)
		if ui != nil {
			ui.SetStats(lines)
			now := time.Now().UTC()
			for _, line := range lines {
				fanout.WriteFileOnlyLine(line, now)
			}
			continue
		}
		for _, line := range lines {
			log.Print(line)
		}
	}
}

var errNoOutputs = errors.New("no outputs configured")

// checkOutputs warns when nothing would receive decoded text.
func checkOutputs(outs *outputs) error {
	if outs.cfg.Enabled || len(outs.localMembers()) > 0 {
		return nil
	}
	return errNoOutputs
}
