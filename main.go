package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d1nch8g/convo/audio"
	"github.com/d1nch8g/convo/config"
	"github.com/d1nch8g/convo/engine"
	"github.com/d1nch8g/convo/logging"
	"github.com/d1nch8g/convo/metrics"
	"github.com/d1nch8g/convo/sound"
	"github.com/d1nch8g/convo/transport"
)

var (
	cfgFile     string
	agentID     string
	autostart   bool
	metricsAddr string
	logLevel    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convo",
		Short: "Talk to a remote voice agent",
		Long: `convo streams your microphone to a voice agent over a websocket and
plays back the audio it answers with.

Press Enter (or type "t") to start or stop a session, "q" to quit.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id (default: server.agent_id from config)")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start a session immediately")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	player := sound.NewPortaudioPlayer(sound.PlayerConfig{
		FramesPerBuffer: cfg.Playback.FramesPerBuffer,
	}, logger)
	if err := player.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	defer player.Terminate()

	source := audio.NewPortaudioSource(audio.Config{
		SampleRate:    cfg.Capture.SampleRate,
		Channels:      cfg.Capture.Channels,
		ChunkInterval: cfg.Capture.ChunkInterval,
	}, logger)
	if err := source.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio input: %w", err)
	}
	defer source.Terminate()

	dialer := transport.NewWSDialer(transport.Config{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteWait:        cfg.Transport.WriteWait,
		PongWait:         cfg.Transport.PongWait,
		SendBuffer:       cfg.Transport.SendBuffer,
		MaxMessageSize:   cfg.Transport.MaxMessageSize,
	}, logger)

	mgr := engine.NewManager(engine.Options{
		Config:  cfg,
		Dialer:  dialer,
		Source:  source,
		Decoder: sound.AutoDecoder{},
		Player:  player,
		Logger:  logger,
		Metrics: m,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(ctx) }()

	go func() {
		for ev := range events {
			printStatus(out, ev)
		}
	}()

	fmt.Fprintf(out, "Server %s. Press Enter to start or stop, q to quit.\n", cfg.Server.URL)
	if autostart {
		toggle(mgr, logger)
	}

	go func() {
		if readCommands(in, out, mgr, logger) {
			cancel()
		}
	}()

	err = <-runDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readCommands reports whether the user asked to quit. End of input only
// stops reading so that --autostart works without a terminal.
func readCommands(in io.Reader, out io.Writer, mgr *engine.Manager, logger *zap.Logger) bool {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "", "t":
			toggle(mgr, logger)
		case "q":
			return true
		default:
			fmt.Fprintln(out, `unknown command, use Enter or "t" to toggle, "q" to quit`)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read commands", zap.Error(err))
	}
	return false
}

func toggle(mgr *engine.Manager, logger *zap.Logger) {
	var err error
	if mgr.Status() == engine.StatusDisconnected {
		err = mgr.Start(agentID)
	} else {
		err = mgr.Stop()
	}
	if err != nil && !errors.Is(err, engine.ErrClosed) {
		logger.Warn("toggle failed", zap.Error(err))
	}
}

func printStatus(out io.Writer, ev engine.StatusEvent) {
	switch ev.Status {
	case engine.StatusConnected:
		fmt.Fprintf(out, "Connected & streaming to %s\n", ev.AgentID)
	case engine.StatusConnecting:
		fmt.Fprintln(out, "Connecting...")
	case engine.StatusDisconnected:
		fmt.Fprintln(out, "Ready to connect")
	case engine.StatusError:
		fmt.Fprintf(out, "Connection error: %v\n", ev.Err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
