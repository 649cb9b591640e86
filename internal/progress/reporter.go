package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Label names the run in the header line (domain name, usually).
	Label string

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Tiles           int
	TilesPrepared   int
	TilesFailed     int
	Downloads       int
	DownloadsActive int
	DownloadsFailed int
	Bytes           int64
	Elapsed         time.Duration
}

// Reporter outputs human-readable progress for tile acquisition. All
// counter methods are safe for concurrent use and may be called before
// Start or on a reporter that is never started.
type Reporter struct {
	opts Options

	tiles           atomic.Int32
	tilesPrepared   atomic.Int32
	tilesFailed     atomic.Int32
	downloads       atomic.Int32
	downloadsActive atomic.Int32
	downloadsFailed atomic.Int32
	bytes           atomic.Int64

	mu         sync.Mutex
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[mb] Preparing: %s\n", r.opts.Label)

	go r.updateLoop()
}

// Stop stops the reporter and waits for the final status line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// TileAdded registers a tile the run depends on.
func (r *Reporter) TileAdded() { r.tiles.Add(1) }

// TilePrepared marks a tile as ready.
func (r *Reporter) TilePrepared() { r.tilesPrepared.Add(1) }

// TileFailed marks a tile as failed.
func (r *Reporter) TileFailed() { r.tilesFailed.Add(1) }

// DownloadStarted marks an archive download as in progress.
func (r *Reporter) DownloadStarted() {
	r.downloads.Add(1)
	r.downloadsActive.Add(1)
}

// BytesWritten records bytes stored in the workspace.
func (r *Reporter) BytesWritten(n int64) { r.bytes.Add(n) }

// DownloadCompleted marks a download as finished.
func (r *Reporter) DownloadCompleted() { r.downloadsActive.Add(-1) }

// DownloadFailed marks a download as failed (removes from in-progress).
func (r *Reporter) DownloadFailed() {
	r.downloadsActive.Add(-1)
	r.downloadsFailed.Add(1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	start := r.startTime
	r.mu.Unlock()

	s := Snapshot{
		Tiles:           int(r.tiles.Load()),
		TilesPrepared:   int(r.tilesPrepared.Load()),
		TilesFailed:     int(r.tilesFailed.Load()),
		Downloads:       int(r.downloads.Load()),
		DownloadsActive: int(r.downloadsActive.Load()),
		DownloadsFailed: int(r.downloadsFailed.Load()),
		Bytes:           r.bytes.Load(),
	}
	if !start.IsZero() {
		s.Elapsed = time.Since(start)
	}
	return s
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	s := r.Snapshot()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(s.Bytes-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = s.Bytes

	fmt.Fprintf(r.opts.Output, "\r[mb] Tiles: %d/%d prepared | Downloads: %d active, %d failed | %s | %s/s    ",
		s.TilesPrepared, s.Tiles,
		s.DownloadsActive, s.DownloadsFailed,
		formatBytes(s.Bytes),
		formatBytes(int64(speed)),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	avgSpeed := float64(s.Bytes) / max(s.Elapsed.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[mb] Tiles: %d/%d prepared, %d failed | Downloads: %d, %d failed    \n",
		s.TilesPrepared, s.Tiles, s.TilesFailed, s.Downloads, s.DownloadsFailed)
	fmt.Fprintf(r.opts.Output, "[mb] Total time: %s | Downloaded: %s | Average speed: %s/s\n",
		formatDuration(s.Elapsed),
		formatBytes(s.Bytes),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable IEC string.
func formatBytes(b int64) string {
	const (
		KiB = 1024
		MiB = KiB * 1024
		GiB = MiB * 1024
		TiB = GiB * 1024
	)

	var unit string
	var v float64
	switch {
	case b >= TiB:
		unit, v = "TiB", float64(b)/TiB
	case b >= GiB:
		unit, v = "GiB", float64(b)/GiB
	case b >= MiB:
		unit, v = "MiB", float64(b)/MiB
	case b >= KiB:
		unit, v = "KiB", float64(b)/KiB
	default:
		return fmt.Sprintf("%d B", b)
	}
	if v >= 100 {
		return fmt.Sprintf("%.0f %s", v, unit)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatDuration is exported for use by other packages.
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}
