package raster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"gocloud.dev/blob"
)

// openAAIGrid parses a whole ASCII grid into memory. Survey cells are
// 500 by 500 or 1000 by 1000 values, small enough to hold at once.
func openAAIGrid(ctx context.Context, bucket *blob.Bucket, key string) (*grid, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read grid: %w", err)
	}

	r := bufio.NewReader(bytes.NewReader(data))
	h, first, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	info := h.info()
	g := newGrid(info.SizeX, info.SizeY, info.Transform)
	g.info.NoData = h.noData
	g.readOnly = true

	n := 0
	want := len(g.data)
	parse := func(line string) error {
		for _, field := range strings.Fields(line) {
			if n >= want {
				return fmt.Errorf("grid %s: more than %d values", key, want)
			}
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return fmt.Errorf("grid %s: value %d: %w", key, n, err)
			}
			g.data[n] = float32(v)
			n++
		}
		return nil
	}

	if err := parse(first); err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := parse(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("grid %s: %w", key, err)
	}
	if n != want {
		return nil, fmt.Errorf("grid %s: got %d values, want %d", key, n, want)
	}
	return g, nil
}

// createAAIGrid returns a buffered dataset written as an ASCII grid on Close.
func createAAIGrid(bucket *blob.Bucket, key string, sizeX, sizeY int, gt GeoTransform) *grid {
	g := newGrid(sizeX, sizeY, gt)
	g.flush = func(ctx context.Context, g *grid) error {
		err := writeObject(ctx, bucket, key, func(bw *bufio.Writer) error {
			bw.Write(headerFor(g.info))
			rows := g.northFirst()
			for row := 0; row < g.info.SizeY; row++ {
				for col := 0; col < g.info.SizeX; col++ {
					if col > 0 {
						bw.WriteByte(' ')
					}
					bw.WriteString(strconv.FormatFloat(float64(rows[row*g.info.SizeX+col]), 'g', -1, 32))
				}
				if err := bw.WriteByte('\n'); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("write grid: %w", err)
		}
		return nil
	}
	return g
}
