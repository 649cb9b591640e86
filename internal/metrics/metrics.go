// Package metrics exposes Prometheus instrumentation for tile acquisition,
// downloads and raster operations.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tile acquisition
	TilePhases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelbuilder",
		Subsystem: "tile",
		Name:      "phase_transitions_total",
		Help:      "Tile phase transitions by resulting phase",
	}, []string{"phase"})

	TilePhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelbuilder",
		Subsystem: "tile",
		Name:      "phase_duration_seconds",
		Help:      "Duration of tile download, extract and rasterise phases",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"phase", "result"})

	TilesPrepared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "modelbuilder",
		Subsystem: "tile",
		Name:      "prepared_total",
		Help:      "Tiles that reached the prepared state",
	})

	// Download queue
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelbuilder",
		Subsystem: "download",
		Name:      "requests_total",
		Help:      "Archive downloads by result",
	}, []string{"result"})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "modelbuilder",
		Subsystem: "download",
		Name:      "bytes_total",
		Help:      "Archive bytes written to the workspace",
	})

	DownloadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelbuilder",
		Subsystem: "download",
		Name:      "queue_depth",
		Help:      "Downloads waiting for the fetch pump",
	})

	// Raster operations
	RasterOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelbuilder",
		Subsystem: "raster",
		Name:      "operation_duration_seconds",
		Help:      "Duration of mosaic, clip, divide and grid operations",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"op", "result"})

	// Catalog cache
	CatalogLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelbuilder",
		Subsystem: "catalog",
		Name:      "lookups_total",
		Help:      "Catalog lookups by source (cache or remote)",
	}, []string{"source"})
)

// Result returns the label value for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRasterOp records a completed raster operation. It matches the
// rastertools observer signature.
func ObserveRasterOp(op string, elapsed time.Duration, err error) {
	RasterOpDuration.WithLabelValues(op, Result(err)).Observe(elapsed.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
