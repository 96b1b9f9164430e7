// Command artifact-fetcher downloads circuit artifacts (proving keys,
// verification keys and witness programs) from a content-addressed store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/backend"
	"github.com/wolfeidau/artifact-fetcher/download"
	"github.com/wolfeidau/artifact-fetcher/retrieval"
	"github.com/wolfeidau/artifact-fetcher/session"
	"github.com/wolfeidau/artifact-fetcher/store"
	"github.com/wolfeidau/artifact-fetcher/store/gateway"
	"github.com/wolfeidau/artifact-fetcher/store/mirror"
	"github.com/wolfeidau/artifact-fetcher/telemetry"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Root           string        `help:"Root identifier artifacts are resolved under." default:"${default_root}" env:"ARTIFACT_FETCHER_ROOT"`
	Gateway        []string      `help:"IPFS gateway base URL, tried in order (repeatable)." env:"ARTIFACT_FETCHER_GATEWAY"`
	Mirror         string        `help:"Read from a local mirror directory instead of gateways." type:"path" env:"ARTIFACT_FETCHER_MIRROR"`
	Timeout        time.Duration `help:"Overall timeout for the command (0 disables)." default:"10m" env:"ARTIFACT_FETCHER_TIMEOUT"`
	LogLevel       string        `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"ARTIFACT_FETCHER_LOG_LEVEL"`
	LogFormat      string        `help:"Log format." enum:"text,json" default:"text" env:"ARTIFACT_FETCHER_LOG_FORMAT"`
	MetricsAddress string        `help:"Address to serve Prometheus metrics on, e.g. :9090." env:"ARTIFACT_FETCHER_METRICS_ADDRESS"`
	OTLPEndpoint   string        `name:"otlp-endpoint" help:"OTLP gRPC endpoint for metrics export." env:"ARTIFACT_FETCHER_OTLP_ENDPOINT"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// CLI is the command line of artifact-fetcher.
type CLI struct {
	Globals

	Download DownloadCmd `cmd:"" help:"Download every artifact of one or more variants."`
	Fetch    FetchCmd    `cmd:"" help:"Fetch a single artifact."`
	Path     PathCmd     `cmd:"" help:"Print the path an artifact resolves to."`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	stopMetrics, err := startMetrics(ctx, &cli.Globals, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	if cli.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cli.Timeout)
		defer timeoutCancel()
	}

	a := &app{globals: &cli.Globals, logger: logger, stdout: os.Stdout}
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(a)
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("artifact-fetcher"),
		kong.Description("Download circuit artifacts from a content-addressed store."),
		kong.UsageOnError(),
		kong.Vars{
			"default_root": artifactfetcher.DefaultRootID.String(),
			"version":      version,
		},
	)
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// startMetrics initialises metrics export when requested and returns a
// function that flushes and stops it.
func startMetrics(ctx context.Context, g *Globals, logger *slog.Logger) (func(), error) {
	if g.MetricsAddress == "" && g.OTLPEndpoint == "" {
		return func() {}, nil
	}

	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceVersion:   version,
		OTLPEndpoint:     g.OTLPEndpoint,
		EnablePrometheus: g.MetricsAddress != "",
	})
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	var srv *http.Server
	if g.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.PrometheusHandler())
		srv = &http.Server{
			Addr:              g.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "address", g.MetricsAddress)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("flushing metrics", "error", err)
		}
	}, nil
}

// app composes the store, session, retrieval and download layers for a
// single command invocation.
type app struct {
	globals *Globals
	logger  *slog.Logger
	stdout  io.Writer

	// storeClient overrides the store selected by the global flags.
	storeClient store.Client
}

func (a *app) store() store.Client {
	if a.storeClient != nil {
		return a.storeClient
	}
	if a.globals.Mirror != "" {
		return mirror.New(a.globals.Mirror, mirror.WithLogger(a.logger))
	}
	opts := []gateway.Option{gateway.WithLogger(a.logger)}
	if len(a.globals.Gateway) > 0 {
		opts = append(opts, gateway.WithGateways(a.globals.Gateway...))
	}
	return gateway.New(opts...)
}

func (a *app) downloader(sink download.Sink) *download.Downloader {
	sessions := session.New(a.store(), session.WithLogger(a.logger))
	client := retrieval.New(sessions, retrieval.WithLogger(a.logger))

	opts := []download.Option{
		download.WithRoot(artifactfetcher.RootID(a.globals.Root)),
		download.WithLogger(a.logger),
	}
	if sink != nil {
		opts = append(opts, download.WithSink(sink))
	}
	return download.New(client, opts...)
}

// sink opens the output sink for dir. The caller closes it.
func (a *app) sink(dir string, compress bool) (*download.FilesystemSink, error) {
	fs, err := backend.NewFilesystem(dir)
	if err != nil {
		return nil, fmt.Errorf("opening output directory: %w", err)
	}
	var opts []download.SinkOption
	if compress {
		opts = append(opts, download.WithCompression())
	}
	return download.NewFilesystemSink(backend.NewInstrumentedBackend(fs, "output"), opts...)
}
