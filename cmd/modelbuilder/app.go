package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/hipims/modelbuilder/internal/archive"
	"github.com/hipims/modelbuilder/internal/cache"
	"github.com/hipims/modelbuilder/internal/catalog"
	"github.com/hipims/modelbuilder/internal/config"
	"github.com/hipims/modelbuilder/internal/domain"
	"github.com/hipims/modelbuilder/internal/downloader"
	"github.com/hipims/modelbuilder/internal/events"
	mbhttp "github.com/hipims/modelbuilder/internal/http"
	"github.com/hipims/modelbuilder/internal/logging"
	"github.com/hipims/modelbuilder/internal/metrics"
	"github.com/hipims/modelbuilder/internal/progress"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/internal/tile"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

// commonFlags are accepted by every command that touches the workspace.
type commonFlags struct {
	configFile  string
	workspace   string
	logLevel    string
	logFormat   string
	metricsAddr string
	natsURL     string
	valkeyAddr  string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&c.workspace, "workspace", "", "Workspace bucket URL or directory (default file://./download)")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&c.natsURL, "nats-url", "", "Publish lifecycle events to this NATS server")
	fs.StringVar(&c.valkeyAddr, "valkey-addr", "", "Cache catalog responses in this Valkey server")
	return c
}

// load builds the effective configuration: file, then environment, then
// flags.
func (c *commonFlags) load(override config.Config) (config.Config, error) {
	cfg := config.Default()
	if c.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override.Workspace = c.workspace
	override.Log = config.LogConfig{Level: c.logLevel, Format: c.logFormat}
	override.MetricsAddr = c.metricsAddr
	override.NATSURL = c.natsURL
	override.ValkeyAddr = c.valkeyAddr
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[mb] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// app holds the services shared by the commands of one run.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	ws       *workspace.Workspace
	tools    *rastertools.Tools
	events   events.Publisher
	cache    cache.Cache
	reporter *progress.Reporter
	queue    *downloader.Queue
	tiles    *tile.Registry
}

type appOptions struct {
	// acquire wires the catalog, download queue and tile registry.
	acquire bool
	// progress prints periodic status lines.
	progress bool
	label    string
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.Setup(cfg.Log.Level, cfg.Log.Format),
		events: events.Nop{},
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				a.logger.Error("metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	ws, err := workspace.Open(ctx, cfg.Workspace)
	if err != nil {
		return nil, err
	}
	a.ws = ws
	a.tools = rastertools.New(ws.Rasters(),
		rastertools.WithLogger(a.logger),
		rastertools.WithObserver(metrics.ObserveRasterOp),
	)

	if cfg.NATSURL != "" {
		pub, err := events.NewNATS(cfg.NATSURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.events = pub
	}

	a.reporter = progress.NewReporter(progress.Options{Label: opts.label})
	if opts.progress {
		a.reporter.Start()
	}

	if !opts.acquire {
		return a, nil
	}

	a.cache = cache.NewMemory()
	if cfg.ValkeyAddr != "" {
		c, err := cache.NewValkey(cfg.ValkeyAddr, "modelbuilder:catalog:")
		if err != nil {
			a.close()
			return nil, err
		}
		a.cache = c
	}

	httpOpts := mbhttp.DefaultOptions()
	httpOpts.Timeout = cfg.HTTP.Timeout
	httpOpts.RetryAttempts = cfg.HTTP.RetryAttempts
	httpOpts.RetryBackoff = cfg.HTTP.RetryBackoff

	catOpts := catalog.Options{
		URL:         cfg.Catalog.URL,
		DownloadURL: cfg.Catalog.DownloadURL,
		Name:        cfg.Catalog.Name,
		CacheTTL:    cfg.Catalog.CacheTTL,
		Cache:       a.cache,
		HTTP:        mbhttp.NewClient(httpOpts),
		Logger:      a.logger,
	}

	a.queue = downloader.New(ctx, ws.Bucket(), downloader.Options{
		Progress:    a.reporter,
		HTTPOptions: httpOpts,
		Logger:      a.logger,
	})
	a.tiles = tile.NewRegistry(&tile.Services{
		Workspace: ws,
		Catalog:   catalog.New(catOpts),
		Fetcher:   a.queue,
		Extractor: archive.NewExtractor(ws.Bucket(), a.logger),
		Mosaicker: a.tools,
		Events:    a.events,
		Progress:  a.reporter,
		Logger:    a.logger,
	})
	return a, nil
}

// domainServices returns the collaborators domains are built with.
func (a *app) domainServices() *domain.Services {
	return &domain.Services{
		Workspace: a.ws,
		Tools:     a.tools,
		Tiles:     a.tiles,
		Events:    a.events,
		Logger:    a.logger,
	}
}

func (a *app) close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.reporter != nil {
		a.reporter.Stop()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.ws != nil {
		a.ws.Close()
	}
}

// parseExtent reads the lower-left and upper-right corner flags.
func parseExtent(lowerLeft, upperRight string) (geo.Extent, error) {
	ll, err := geo.ParsePoint(lowerLeft)
	if err != nil {
		return geo.Extent{}, fmt.Errorf("lower-left: %w", err)
	}
	ur, err := geo.ParsePoint(upperRight)
	if err != nil {
		return geo.Extent{}, fmt.Errorf("upper-right: %w", err)
	}
	if ll[0] >= ur[0] || ll[1] >= ur[1] {
		return geo.Extent{}, fmt.Errorf("lower-left %s must lie below and left of upper-right %s", lowerLeft, upperRight)
	}
	return geo.NewExtent(ll[0], ll[1], ur[0], ur[1]), nil
}

// constantsFlag collects repeated -const key=value pairs.
type constantsFlag []string

func (c *constantsFlag) String() string { return strings.Join(*c, ",") }

func (c *constantsFlag) Set(v string) error {
	*c = append(*c, v)
	return nil
}

func (c constantsFlag) parse() (testcases.Constants, error) {
	return testcases.ParseConstants(c)
}
