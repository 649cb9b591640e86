package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gocloud.dev/blob"

	mbhttp "github.com/hipims/modelbuilder/internal/http"
	"github.com/hipims/modelbuilder/internal/metrics"
	"github.com/hipims/modelbuilder/internal/progress"
)

// ErrClosed is returned for requests enqueued after Close or still
// pending when the queue's context ends.
var ErrClosed = errors.New("downloader: queue closed")

// Options configures the queue.
type Options struct {
	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// HTTPOptions configures the HTTP client.
	HTTPOptions mbhttp.Options

	// Logger receives one line per fetch. Default: slog.Default().
	Logger *slog.Logger

	// MaxConsecutiveFailures is the number of consecutive failed fetches
	// after which every request still queued fails without a network call.
	// Set to 0 to disable (default).
	MaxConsecutiveFailures int
}

// FailedDownload records information about a fetch that failed.
type FailedDownload struct {
	URL   string
	Key   string
	Error error
}

// CircuitBreakerError is returned for requests that were skipped because
// too many consecutive fetches before them failed.
//
// Use errors.As to extract this error and inspect Failures for details.
type CircuitBreakerError struct {
	ConsecutiveFailures int              // Number of consecutive failures
	Failures            []FailedDownload // The failures that tripped the breaker
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %d consecutive failures", e.ConsecutiveFailures)
}

// Request is one queued fetch of url into the workspace object key.
type Request struct {
	URL string
	Key string

	done  chan struct{}
	err   error
	bytes int64
}

// Done is closed when the request has finished, successfully or not.
func (r *Request) Done() <-chan struct{} { return r.done }

// Err returns the outcome. It is only meaningful after Done is closed.
func (r *Request) Err() error { return r.err }

// Bytes returns the number of bytes stored. It is only meaningful after
// Done is closed.
func (r *Request) Bytes() int64 { return r.bytes }

// Wait blocks until the request finishes or ctx ends. A cancelled wait
// does not cancel the fetch.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Request) finish(n int64, err error) {
	r.bytes = n
	r.err = err
	close(r.done)
}

// Queue fetches archives one at a time, in the order they were enqueued,
// into a workspace bucket. A single pump goroutine owns the network; any
// number of goroutines may enqueue.
type Queue struct {
	bucket *blob.Bucket
	client *mbhttp.Client
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []*Request
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	// pump-owned
	consecutive int
	failures    []FailedDownload
}

// New starts a queue writing into bucket. Fetches run under ctx; when it
// ends, the fetch in flight fails and every queued request fails with
// ErrClosed.
func New(ctx context.Context, bucket *blob.Bucket, opts Options) *Queue {
	if opts.HTTPOptions.Timeout == 0 {
		opts.HTTPOptions = mbhttp.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		bucket:  bucket,
		client:  mbhttp.NewClient(opts.HTTPOptions),
		opts:    opts,
		logger:  opts.Logger.With("component", "downloader"),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Enqueue appends a fetch of url to key and returns immediately.
func (q *Queue) Enqueue(url, key string) *Request {
	r := &Request{URL: url, Key: key, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		r.finish(0, ErrClosed)
		return r
	}
	q.pending = append(q.pending, r)
	depth := len(q.pending)
	q.mu.Unlock()

	metrics.DownloadQueueDepth.Set(float64(depth))
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return r
}

// Close stops accepting requests, lets the pump finish everything already
// queued and waits for it to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.stopped
	q.cancel()
}

func (q *Queue) next() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, q.closed
	}
	r := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	metrics.DownloadQueueDepth.Set(float64(len(q.pending)))
	return r, false
}

func (q *Queue) pump() {
	defer close(q.stopped)
	for {
		r, done := q.next()
		if done {
			return
		}
		if r == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				q.drain()
				return
			}
		}
		if q.ctx.Err() != nil {
			r.finish(0, ErrClosed)
			q.drain()
			return
		}
		q.run(r)
	}
}

// drain fails everything still queued.
func (q *Queue) drain() {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()
	metrics.DownloadQueueDepth.Set(0)
	for _, r := range pending {
		r.finish(0, ErrClosed)
	}
}

func (q *Queue) run(r *Request) {
	// Requests without a source complete immediately.
	if r.URL == "" && r.Key == "" {
		r.finish(0, nil)
		return
	}

	if limit := q.opts.MaxConsecutiveFailures; limit > 0 && q.consecutive >= limit {
		r.finish(0, &CircuitBreakerError{
			ConsecutiveFailures: q.consecutive,
			Failures:            append([]FailedDownload(nil), q.failures...),
		})
		metrics.DownloadsTotal.WithLabelValues("skipped").Inc()
		return
	}

	if p := q.opts.Progress; p != nil {
		p.DownloadStarted()
	}
	q.logger.Info("downloading", "key", r.Key, "url", r.URL)

	n, err := q.fetch(q.ctx, r.URL, r.Key)
	if err != nil {
		q.consecutive++
		q.failures = append(q.failures, FailedDownload{URL: r.URL, Key: r.Key, Error: err})
		if p := q.opts.Progress; p != nil {
			p.DownloadFailed()
		}
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		q.logger.Warn("download failed, partial object removed", "key", r.Key, "error", err)
		r.finish(n, err)
		return
	}

	q.consecutive = 0
	q.failures = nil
	if p := q.opts.Progress; p != nil {
		p.DownloadCompleted()
	}
	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	q.logger.Info("download finished", "key", r.Key, "bytes", n)
	r.finish(n, nil)
}

// fetch streams url into key. On failure nothing is left under key.
func (q *Queue) fetch(ctx context.Context, url, key string) (int64, error) {
	resp, err := q.client.Get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()

	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	w, err := q.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{
		ContentType: resp.ContentType,
	})
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", key, err)
	}

	n, err := io.Copy(w, &countingReader{r: resp.Body, progress: q.opts.Progress})
	if err != nil {
		// Cancelling the writer's context before Close discards the object.
		abort()
		w.Close()
		q.bucket.Delete(context.WithoutCancel(ctx), key)
		return n, fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		q.bucket.Delete(context.WithoutCancel(ctx), key)
		return n, fmt.Errorf("close %s: %w", key, err)
	}
	return n, nil
}

type countingReader struct {
	r        io.Reader
	progress *progress.Reporter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		metrics.DownloadBytes.Add(float64(n))
		if c.progress != nil {
			c.progress.BytesWritten(int64(n))
		}
	}
	return n, err
}
