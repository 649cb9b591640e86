package raster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"

	"gocloud.dev/blob"
)

// header holds the keys of an EHdr .hdr file or the first lines of an
// ASCII grid; both formats share the ESRI keyword set.
type header struct {
	cols, rows int
	xll, yll   float64
	center     bool
	cellSize   float64
	noData     float64
	byteOrder  binary.ByteOrder
}

// parseHeader reads keyword/value lines until it meets a line whose first
// field is not a known keyword, which is returned as the remainder.
func parseHeader(r *bufio.Reader) (header, string, error) {
	h := header{noData: NoData, byteOrder: binary.LittleEndian}
	var haveCols, haveRows, haveSize bool

	for {
		line, err := r.ReadString('\n')
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			key := strings.ToLower(fields[0])
			val := fields[len(fields)-1]
			var perr error
			known := true
			switch key {
			case "ncols":
				h.cols, perr = strconv.Atoi(val)
				haveCols = true
			case "nrows":
				h.rows, perr = strconv.Atoi(val)
				haveRows = true
			case "xllcorner":
				h.xll, perr = strconv.ParseFloat(val, 64)
			case "yllcorner":
				h.yll, perr = strconv.ParseFloat(val, 64)
			case "xllcenter":
				h.xll, perr = strconv.ParseFloat(val, 64)
				h.center = true
			case "yllcenter":
				h.yll, perr = strconv.ParseFloat(val, 64)
				h.center = true
			case "cellsize":
				h.cellSize, perr = strconv.ParseFloat(val, 64)
				haveSize = true
			case "nodata_value", "nodata":
				h.noData, perr = strconv.ParseFloat(val, 64)
			case "byteorder":
				if strings.EqualFold(val, "msbfirst") || strings.EqualFold(val, "m") {
					h.byteOrder = binary.BigEndian
				}
			case "pixeltype", "nbits", "layout", "nbands":
			default:
				known = false
			}
			if perr != nil {
				return h, "", fmt.Errorf("header %s: %w", key, perr)
			}
			if !known {
				if !haveCols || !haveRows || !haveSize {
					return h, "", fmt.Errorf("header: unexpected line %q", strings.TrimSpace(line))
				}
				h.adjustCenter()
				return h, line, nil
			}
		} else if len(fields) != 0 {
			if !haveCols || !haveRows || !haveSize {
				return h, "", fmt.Errorf("header: unexpected line %q", strings.TrimSpace(line))
			}
			h.adjustCenter()
			return h, line, nil
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return h, "", fmt.Errorf("read header: %w", err)
		}
	}

	if !haveCols || !haveRows || !haveSize {
		return h, "", fmt.Errorf("header: ncols, nrows and cellsize are required")
	}
	h.adjustCenter()
	return h, "", nil
}

func (h *header) adjustCenter() {
	if h.center {
		h.xll -= h.cellSize / 2
		h.yll -= h.cellSize / 2
		h.center = false
	}
}

// info converts the header into north-up dataset metadata.
func (h header) info() Info {
	return Info{
		SizeX: h.cols,
		SizeY: h.rows,
		Bands: 1,
		Transform: GeoTransform{
			h.xll, h.cellSize, 0,
			h.yll + float64(h.rows)*h.cellSize, 0, -h.cellSize,
		},
		NoData: h.noData,
	}
}

// headerFor builds the header text describing info. The lower-left corner
// is the same for either row orientation.
func headerFor(info Info, extra ...string) []byte {
	b := info.Bounds()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "NCOLS %d\n", info.SizeX)
	fmt.Fprintf(&buf, "NROWS %d\n", info.SizeY)
	fmt.Fprintf(&buf, "XLLCORNER %s\n", formatFloat(b.MinX()))
	fmt.Fprintf(&buf, "YLLCORNER %s\n", formatFloat(b.MinY()))
	fmt.Fprintf(&buf, "CELLSIZE %s\n", formatFloat(info.Transform.Resolution()))
	fmt.Fprintf(&buf, "NODATA_VALUE %s\n", formatFloat(info.NoData))
	for _, line := range extra {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// hdrKey returns the header key belonging to an EHdr data key.
func hdrKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + ".hdr"
}

// fltKey returns the data key belonging to an EHdr header or data key.
func fltKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + ".flt"
}

// ehdrDataset reads rows straight from the bucket with range reads, so
// large tiles are never loaded whole.
type ehdrDataset struct {
	bucket *blob.Bucket
	key    string
	info   Info
	order  binary.ByteOrder
}

func openEHdr(ctx context.Context, bucket *blob.Bucket, key string) (*ehdrDataset, error) {
	data, err := bucket.ReadAll(ctx, hdrKey(key))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, _, err := parseHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}

	d := &ehdrDataset{bucket: bucket, key: fltKey(key), info: h.info(), order: h.byteOrder}

	attrs, err := bucket.Attributes(ctx, d.key)
	if err != nil {
		return nil, fmt.Errorf("stat data: %w", err)
	}
	if want := int64(h.cols) * int64(h.rows) * 4; attrs.Size < want {
		return nil, fmt.Errorf("data %s holds %d bytes, header needs %d", d.key, attrs.Size, want)
	}
	return d, nil
}

func (d *ehdrDataset) Info() Info { return d.info }

func (d *ehdrDataset) ReadWindow(ctx context.Context, x, y, w, h int, buf []float32) error {
	if err := checkWindow(d.info, x, y, w, h, buf); err != nil {
		return err
	}
	if w == 0 || h == 0 {
		return nil
	}

	// Whole-width windows are contiguous and need a single read.
	if w == d.info.SizeX {
		return d.readRange(ctx, int64(y)*int64(w), w*h, buf)
	}
	for row := 0; row < h; row++ {
		off := int64(y+row)*int64(d.info.SizeX) + int64(x)
		if err := d.readRange(ctx, off, w, buf[row*w:(row+1)*w]); err != nil {
			return err
		}
	}
	return nil
}

func (d *ehdrDataset) readRange(ctx context.Context, cell int64, n int, out []float32) error {
	r, err := d.bucket.NewRangeReader(ctx, d.key, cell*4, int64(n)*4, nil)
	if err != nil {
		return fmt.Errorf("open range: %w", err)
	}
	defer r.Close()

	raw := make([]byte, n*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("read range: %w", err)
	}
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(d.order.Uint32(raw[i*4:]))
	}
	return nil
}

func (d *ehdrDataset) WriteWindow(context.Context, int, int, int, int, []float32) error {
	return ErrReadOnly
}

func (d *ehdrDataset) SetNoData(v float64) { d.info.NoData = v }

func (d *ehdrDataset) Flush(context.Context) error { return nil }
func (d *ehdrDataset) Close(context.Context) error { return nil }

// createEHdr returns a buffered dataset that writes key's .hdr and .flt
// on Close. Rows are always stored north first. A failed data write
// removes the header again.
func createEHdr(bucket *blob.Bucket, key string, sizeX, sizeY int, gt GeoTransform) *grid {
	g := newGrid(sizeX, sizeY, gt)
	g.flush = func(ctx context.Context, g *grid) error {
		hdr := hdrKey(key)
		if err := bucket.WriteAll(ctx, hdr, headerFor(g.info, "BYTEORDER LSBFIRST", "PIXELTYPE FLOAT", "NBITS 32"), nil); err != nil {
			return fmt.Errorf("write header: %w", err)
		}

		err := writeObject(ctx, bucket, fltKey(key), func(bw *bufio.Writer) error {
			var cell [4]byte
			for _, v := range g.northFirst() {
				binary.LittleEndian.PutUint32(cell[:], math.Float32bits(v))
				if _, err := bw.Write(cell[:]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			bucket.Delete(context.WithoutCancel(ctx), hdr)
			return fmt.Errorf("write data: %w", err)
		}
		return nil
	}
	return g
}
