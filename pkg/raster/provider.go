package raster

import (
	"context"
	"fmt"
	"sync"

	"gocloud.dev/blob"
)

// BucketProvider reads and writes datasets as objects in a blob bucket.
type BucketProvider struct {
	bucket *blob.Bucket
}

// NewBucketProvider returns a provider over bucket.
func NewBucketProvider(bucket *blob.Bucket) *BucketProvider {
	return &BucketProvider{bucket: bucket}
}

// Bucket returns the underlying bucket.
func (p *BucketProvider) Bucket() *blob.Bucket { return p.bucket }

// WriteVRT stores a mosaic descriptor under key.
func (p *BucketProvider) WriteVRT(ctx context.Context, key string, d *VRTDataset) error {
	return WriteVRT(ctx, p.bucket, key, d)
}

// ReadVRT loads the mosaic descriptor stored under key.
func (p *BucketProvider) ReadVRT(ctx context.Context, key string) (*VRTDataset, error) {
	return ReadVRT(ctx, p.bucket, key)
}

// Open opens key, choosing the decoder from its extension.
func (p *BucketProvider) Open(ctx context.Context, key string) (Dataset, error) {
	format, err := FormatForKey(key)
	if err != nil {
		return nil, err
	}
	switch format {
	case EHdr:
		ds, err := openEHdr(ctx, p.bucket, key)
		if err != nil {
			return nil, fmt.Errorf("raster: open %s: %w", key, err)
		}
		return ds, nil
	case AAIGrid:
		ds, err := openAAIGrid(ctx, p.bucket, key)
		if err != nil {
			return nil, fmt.Errorf("raster: open %s: %w", key, err)
		}
		return ds, nil
	case VRT:
		desc, err := ReadVRT(ctx, p.bucket, key)
		if err != nil {
			return nil, fmt.Errorf("raster: open %s: %w", key, err)
		}
		return newVRTDataset(p, key, desc), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Create returns a new dataset filled with NoData. Nothing is written to
// the bucket until the dataset is closed.
func (p *BucketProvider) Create(_ context.Context, key string, format Format, sizeX, sizeY int, gt GeoTransform) (Dataset, error) {
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("raster: create %s: invalid size %dx%d", key, sizeX, sizeY)
	}
	switch format {
	case EHdr:
		return createEHdr(p.bucket, key, sizeX, sizeY, gt), nil
	case AAIGrid:
		return createAAIGrid(p.bucket, key, sizeX, sizeY, gt), nil
	}
	return nil, fmt.Errorf("%w: cannot create %s", ErrUnsupportedFormat, format)
}

// Memory is a Provider that keeps datasets in process. Datasets survive
// Close and can be reopened, keeping their original orientation.
type Memory struct {
	mu    sync.Mutex
	grids map[string]*grid
	vrts  map[string]*VRTDataset
}

// NewMemory returns an empty in-process provider.
func NewMemory() *Memory {
	return &Memory{grids: make(map[string]*grid), vrts: make(map[string]*VRTDataset)}
}

// WriteVRT stores a mosaic descriptor under key.
func (m *Memory) WriteVRT(_ context.Context, key string, d *VRTDataset) error {
	m.mu.Lock()
	m.vrts[key] = d
	m.mu.Unlock()
	return nil
}

// ReadVRT returns the descriptor stored under key.
func (m *Memory) ReadVRT(_ context.Context, key string) (*VRTDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.vrts[key]
	if !ok {
		return nil, fmt.Errorf("raster: read vrt %s: not found", key)
	}
	return d, nil
}

// Open returns a read-only view of a previously created dataset or a
// composed view of a stored descriptor.
func (m *Memory) Open(_ context.Context, key string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.vrts[key]; ok {
		return newVRTDataset(m, key, d), nil
	}
	g, ok := m.grids[key]
	if !ok {
		return nil, fmt.Errorf("raster: open %s: not found", key)
	}
	return &grid{info: g.info, data: g.data, readOnly: true}, nil
}

// Create stores a new dataset under key, replacing any previous one.
func (m *Memory) Create(_ context.Context, key string, _ Format, sizeX, sizeY int, gt GeoTransform) (Dataset, error) {
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("raster: create %s: invalid size %dx%d", key, sizeX, sizeY)
	}
	g := newGrid(sizeX, sizeY, gt)
	g.flush = func(_ context.Context, g *grid) error {
		m.mu.Lock()
		m.grids[key] = g
		m.mu.Unlock()
		return nil
	}
	m.mu.Lock()
	m.grids[key] = g
	m.mu.Unlock()
	return g, nil
}

// Put stores a ready-made north-up or south-up grid of values.
func (m *Memory) Put(key string, sizeX, sizeY int, gt GeoTransform, values []float32) error {
	if len(values) != sizeX*sizeY {
		return fmt.Errorf("raster: put %s: %d values for %dx%d", key, len(values), sizeX, sizeY)
	}
	g := newGrid(sizeX, sizeY, gt)
	copy(g.data, values)
	m.mu.Lock()
	m.grids[key] = g
	m.mu.Unlock()
	return nil
}
