package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/backend"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/console"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/ingest"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/live"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/metrics"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/pipeline"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// It starts the gateway HTTP/WebSocket server and the configured ingest
// sources.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the console gateway",
		Description: `Starts the gateway HTTP server serving the console API, the live
WebSocket feed, and /metrics. Ingest sources (platform span stream,
OTLP gRPC, JSONL directory) run as configured.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a JSON config file",
			},
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "Platform backend API base URL",
			},
			&cli.StringFlag{
				Name:    "backend-token",
				Usage:   "Bearer token for the backend API",
				Sources: cli.EnvVars("BUD_CONSOLE_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "stream-url",
				Usage: "WebSocket URL of the platform span stream",
			},
			&cli.StringFlag{
				Name:  "listen-host",
				Usage: "Gateway bind address",
			},
			&cli.IntFlag{
				Name:  "listen-port",
				Usage: "Gateway port",
			},
			&cli.BoolFlag{
				Name:  "otlp",
				Usage: "Enable the OTLP gRPC ingest source",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP server bind address",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP server port (0 for ephemeral)",
			},
			&cli.StringFlag{
				Name:  "span-dir",
				Usage: "Directory of .jsonl span files to tail",
			},
			&cli.IntFlag{
				Name:  "visible-cap",
				Usage: "Maximum live entries kept visible",
			},
			&cli.IntFlag{
				Name:  "sample-cap",
				Usage: "Raw samples retained for charting",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// flagOverrides builds a Config carrying only the flags the user set,
// for overlay on top of file config.
func flagOverrides(cmd *cli.Command) *Config {
	return &Config{
		BackendURL:   cmd.String("backend-url"),
		BackendToken: cmd.String("backend-token"),
		StreamURL:    cmd.String("stream-url"),
		ListenHost:   cmd.String("listen-host"),
		ListenPort:   cmd.Int("listen-port"),
		OTLPEnabled:  cmd.Bool("otlp"),
		OTLPHost:     cmd.String("otlp-host"),
		OTLPPort:     cmd.Int("otlp-port"),
		SpanDir:      cmd.String("span-dir"),
		VisibleCap:   cmd.Int("visible-cap"),
		SampleCap:    cmd.Int("sample-cap"),
		Verbose:      cmd.Bool("verbose"),
	}
}

// runServe wires together all components: metrics, live session, backend
// client, ingest sources, and the gateway server.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	fileCfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg := MergeConfigs(fileCfg, flagOverrides(cmd))

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Backend: %s\n", cfg.BackendURL)
		log.Printf("  Listen: %s\n", cfg.ListenAddr())
		log.Printf("  Visible cap: %d entries\n", cfg.VisibleCap)
		log.Printf("  Sample cap: %d samples\n", cfg.SampleCap)
		log.Println()
	}

	mtr := metrics.New(prometheus.DefaultRegisterer)

	session := live.NewSession(live.Config{
		VisibleCap: cfg.VisibleCap,
		SampleCap:  cfg.SampleCap,
	}, mtr)

	opts := []backend.Option{backend.WithMetrics(mtr)}
	if cfg.BackendToken != "" {
		opts = append(opts, backend.WithToken(cfg.BackendToken))
	}
	client, err := backend.New(cfg.BackendURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	drafts := pipeline.NewDraftStore()

	ctx, cancel := context.WithCancel(cliCtx)
	defer cancel()

	// Ingest sources, started only when configured
	if cfg.StreamURL != "" {
		ws := ingest.NewWSSource(cfg.StreamURL, session, cfg.Verbose)
		if err := ws.Start(ctx); err != nil {
			return fmt.Errorf("failed to start span stream source: %w", err)
		}
		defer ws.Stop()
		log.Printf("🌐 Span stream source connected to %s\n", cfg.StreamURL)
	}

	if cfg.OTLPEnabled {
		otlp, err := ingest.NewOTLPSource(ingest.OTLPConfig{
			Host: cfg.OTLPHost,
			Port: cfg.OTLPPort,
		}, session)
		if err != nil {
			return fmt.Errorf("failed to create OTLP source: %w", err)
		}
		if err := otlp.Start(ctx); err != nil {
			return fmt.Errorf("failed to start OTLP source: %w", err)
		}
		defer otlp.Stop()
		log.Printf("🌐 OTLP gRPC server listening on %s\n", otlp.Endpoint())
		if cfg.Verbose {
			log.Printf("   Programs can send traces with: OTEL_EXPORTER_OTLP_ENDPOINT=%s\n", otlp.Endpoint())
		}
	}

	if cfg.SpanDir != "" {
		fileSrc, err := ingest.NewFileSource(ingest.FileConfig{
			Directory: cfg.SpanDir,
			Verbose:   cfg.Verbose,
		}, session)
		if err != nil {
			return fmt.Errorf("failed to create file source: %w", err)
		}
		if err := fileSrc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file source: %w", err)
		}
		defer fileSrc.Stop()
		log.Printf("📁 Tailing span files in %s\n", cfg.SpanDir)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		if cfg.Verbose {
			log.Printf("📡 Received signal %v, shutting down...\n", sig)
		}
		cancel()
	}()

	server := console.New(session, client, drafts, mtr)

	log.Printf("🎯 Console gateway ready on http://%s\n", cfg.ListenAddr())

	if err := server.ListenAndServe(ctx, cfg.ListenAddr()); err != nil {
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}
