package raster

import (
	"bufio"
	"context"
	"sync"

	"gocloud.dev/blob"
)

// grid is a dataset held entirely in memory. Created datasets of every
// format buffer their pixels in a grid and hand it to flush on Close.
type grid struct {
	mu       sync.RWMutex
	info     Info
	data     []float32
	readOnly bool
	flush    func(ctx context.Context, g *grid) error
	closed   bool
}

func newGrid(sizeX, sizeY int, gt GeoTransform) *grid {
	g := &grid{
		info: Info{
			SizeX:     sizeX,
			SizeY:     sizeY,
			Bands:     1,
			Transform: gt,
			NoData:    NoData,
		},
		data: make([]float32, sizeX*sizeY),
	}
	for i := range g.data {
		g.data[i] = NoData
	}
	return g
}

func (g *grid) Info() Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.info
}

func (g *grid) ReadWindow(_ context.Context, x, y, w, h int, buf []float32) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := checkWindow(g.info, x, y, w, h, buf); err != nil {
		return err
	}
	for row := 0; row < h; row++ {
		start := (y+row)*g.info.SizeX + x
		copy(buf[row*w:(row+1)*w], g.data[start:start+w])
	}
	return nil
}

func (g *grid) WriteWindow(_ context.Context, x, y, w, h int, buf []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.readOnly {
		return ErrReadOnly
	}
	if err := checkWindow(g.info, x, y, w, h, buf); err != nil {
		return err
	}
	for row := 0; row < h; row++ {
		start := (y+row)*g.info.SizeX + x
		copy(g.data[start:start+w], buf[row*w:(row+1)*w])
	}
	return nil
}

func (g *grid) SetNoData(v float64) {
	g.mu.Lock()
	g.info.NoData = v
	g.mu.Unlock()
}

// Flush hands the current pixels to storage. Closing flushes again.
func (g *grid) Flush(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.flush == nil || g.readOnly {
		return nil
	}
	return g.flush(ctx, g)
}

func (g *grid) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.flush == nil || g.readOnly {
		return nil
	}
	return g.flush(ctx, g)
}

// northFirst returns the rows of g ordered north to south.
func (g *grid) northFirst() []float32 {
	if g.info.Transform.NorthUp() {
		return g.data
	}
	out := make([]float32, len(g.data))
	w := g.info.SizeX
	for row := 0; row < g.info.SizeY; row++ {
		src := (g.info.SizeY - 1 - row) * w
		copy(out[row*w:(row+1)*w], g.data[src:src+w])
	}
	return out
}

// writeObject streams key through fill. If fill or the commit fails, the
// write is abandoned and nothing is left under key.
func writeObject(ctx context.Context, bucket *blob.Bucket, key string, fill func(*bufio.Writer) error) error {
	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	w, err := bucket.NewWriter(writeCtx, key, nil)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	err = fill(bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		// Cancelling the writer's context before Close discards the object.
		abort()
		w.Close()
		bucket.Delete(context.WithoutCancel(ctx), key)
		return err
	}
	if err := w.Close(); err != nil {
		bucket.Delete(context.WithoutCancel(ctx), key)
		return err
	}
	return nil
}
