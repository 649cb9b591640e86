// Package model writes a HiPIMS model directory for a prepared domain: the
// simulation configuration, the domain rasters and the boundary time
// series.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hipims/modelbuilder/internal/domain"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/raster"
)

// ErrNotModelDirectory is returned when the target already holds files
// but no simulation configuration, so it is not safe to replace.
var ErrNotModelDirectory = errors.New("model: target is not a model directory")

// Layout of a model directory.
const (
	ConfigurationKey = "simulation.xml"
	TopographyDir    = "topography"
	BoundariesDir    = "boundaries"
	OutputDir        = "output"
	RainfallKey      = "rainfall.csv"
	DrainageKey      = "drainage.csv"
)

// DefaultDuration is the simulated time in seconds used when none is
// given.
const DefaultDuration = 3600.0

// Definition describes the model to write.
type Definition struct {
	Name            string
	Source          string  // description of the terrain source
	Duration        float64 // seconds
	OutputFrequency float64 // seconds; defaults to Duration
	Format          raster.Format
	Boundaries      Boundaries
}

func (d Definition) withDefaults() Definition {
	if d.Duration <= 0 {
		d.Duration = DefaultDuration
	}
	if d.OutputFrequency <= 0 {
		d.OutputFrequency = d.Duration
	}
	if d.Format == "" {
		d.Format = raster.EHdr
	}
	if d.Source == "" {
		d.Source = "terrain"
	}
	return d
}

// Writer copies prepared domain layers from a workspace into a model
// directory.
type Writer struct {
	src    *workspace.Workspace
	dst    *workspace.Workspace
	logger *slog.Logger
}

// NewWriter returns a writer from the src workspace into dst.
func NewWriter(src, dst *workspace.Workspace, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{src: src, dst: dst, logger: logger.With("component", "model")}
}

// Result lists the keys written to the model directory.
type Result struct {
	Files []string
}

// Write produces the model directory for a prepared domain. A target that
// already holds a model is replaced; any other non-empty target is refused.
func (w *Writer) Write(ctx context.Context, def Definition, d domain.Domain) (*Result, error) {
	def = def.withDefaults()

	if err := w.prepareTarget(ctx); err != nil {
		return nil, err
	}

	layers := d.Layers()
	sources, err := domain.DataSources(layers, def.Format)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", def.Name, err)
	}

	res := &Result{}
	copyLayer := func(name, from string) error {
		dsts := raster.Files(path.Join(TopographyDir, name))
		srcs := raster.Files(from)
		if len(srcs) != len(dsts) {
			return fmt.Errorf("model %s: %s is not stored as %s", def.Name, from, def.Format)
		}
		for i, src := range srcs {
			if err := w.src.CopyTo(ctx, w.dst, dsts[i], src); err != nil {
				return fmt.Errorf("model %s: %w", def.Name, err)
			}
			res.Files = append(res.Files, dsts[i])
		}
		return nil
	}

	// One domain per part when the terrain was divided.
	topographies := []string{sources[0].Source}
	if len(layers.Parts) > 0 {
		topographies = topographies[:0]
		ext := def.Format.Extension()
		for i, part := range layers.Parts {
			name := fmt.Sprintf("%s_%d%s", domain.ModelTopography, i, ext)
			if err := copyLayer(name, part); err != nil {
				return nil, err
			}
			topographies = append(topographies, name)
		}
	} else if err := copyLayer(sources[0].Source, sources[0].CopyFrom); err != nil {
		return nil, err
	}
	for _, s := range sources[1:] {
		if s.CopyFrom != "" {
			if err := copyLayer(s.Source, s.CopyFrom); err != nil {
				return nil, err
			}
		}
	}
	w.logger.Info("domain rasters copied", "files", len(res.Files))

	cfg := buildConfiguration(def, d, sources, topographies)
	body, err := marshalConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.dst.Bucket().WriteAll(ctx, ConfigurationKey, body, nil); err != nil {
		return nil, fmt.Errorf("model %s: write configuration: %w", def.Name, err)
	}
	res.Files = append(res.Files, ConfigurationKey)

	written, err := w.writeBoundaries(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", def.Name, err)
	}
	res.Files = append(res.Files, written...)

	w.logger.Info("model written", "model", def.Name, "files", len(res.Files))
	return res, nil
}

// prepareTarget empties a previous model and creates the directory
// layout. Local directories get all three subdirectories up front since
// the simulation writes into output/.
func (w *Writer) prepareTarget(ctx context.Context) error {
	empty, err := w.dst.Empty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		ok, err := w.dst.Exists(ctx, ConfigurationKey)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotModelDirectory, w.dst.Location())
		}
		n, err := w.dst.DeleteAll(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("previous model removed", "files", n)
	}

	if dir := w.dst.Dir(); dir != "" {
		for _, sub := range []string{TopographyDir, BoundariesDir, OutputDir} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
				return fmt.Errorf("model: create %s: %w", sub, err)
			}
		}
	}
	return nil
}

func (w *Writer) writeBoundaries(ctx context.Context, def Definition) ([]string, error) {
	var written []string
	write := func(key string, body []byte, err error) error {
		if err != nil {
			return err
		}
		full := path.Join(BoundariesDir, key)
		if err := w.dst.Bucket().WriteAll(ctx, full, body, nil); err != nil {
			return fmt.Errorf("write %s: %w", full, err)
		}
		written = append(written, full)
		return nil
	}

	b := def.Boundaries
	if b.HasRainfall() {
		body, err := b.RainfallCSV(def.Duration)
		if err := write(RainfallKey, body, err); err != nil {
			return nil, err
		}
	}
	if b.HasDrainage() {
		body, err := b.DrainageCSV(def.Duration)
		if err := write(DrainageKey, body, err); err != nil {
			return nil, err
		}
	}
	return written, nil
}

func buildConfiguration(def Definition, d domain.Domain, sources []domain.DataSource, topographies []string) *configuration {
	ext := def.Format.Extension()
	format := string(def.Format)
	target := func(value, prefix string) dataTarget {
		return dataTarget{Type: "raster", Value: value, Format: format, Target: prefix + "_%t" + ext}
	}

	var series []timeseries
	if def.Boundaries.HasRainfall() {
		series = append(series, timeseries{Type: "atmospheric", Name: "Rainfall", Value: "rain-intensity", Source: RainfallKey})
	}
	if def.Boundaries.HasDrainage() {
		series = append(series, timeseries{Type: "atmospheric", Name: "Drainage", Value: "loss-rate", Source: DrainageKey})
	}

	cfg := &configuration{
		Metadata: metadata{
			Name:        def.Name,
			Description: fmt.Sprintf("Automatically built %s model.", def.Source),
		},
		Execution: execution{Executor: executor{
			Name:       "OpenCL",
			Parameters: []parameter{{Name: "deviceFilter", Value: "GPU,CPU"}},
		}},
		Simulation: simulation{Parameters: []parameter{
			{Name: "duration", Value: formatFloat(def.Duration)},
			{Name: "outputFrequency", Value: formatFloat(def.OutputFrequency)},
			{Name: "floatingPointPrecision", Value: "double"},
		}},
	}

	for i, topo := range topographies {
		suffix := ""
		if len(topographies) > 1 {
			suffix = fmt.Sprintf("_%d", i)
		}
		data := dataNode{SourceDir: TopographyDir + "/", TargetDir: OutputDir + "/"}
		data.Sources = append(data.Sources, dataSource{Type: "raster", Value: sources[0].Value, Source: topo})
		data.Sources = append(data.Sources, dataSource{Type: "constant", Value: "manningCoefficient", Source: fmt.Sprintf("%.3f", d.Manning())})
		for _, s := range sources[1:] {
			data.Sources = append(data.Sources, dataSource{Type: s.Kind, Value: s.Value, Source: s.Source})
		}
		data.Targets = []dataTarget{
			target("depth", "depth_dem"+suffix),
			target("velocityX", "velX_dem"+suffix),
			target("velocityY", "velY_dem"+suffix),
			target("fsl", "fsl_dem"+suffix),
			target("maxdepth", "maxdepth_dem"+suffix),
		}

		cfg.Simulation.Domains = append(cfg.Simulation.Domains, domainNode{
			Type:         "cartesian",
			DeviceNumber: i + 1,
			Data:         data,
			Scheme: scheme{Name: "Godunov", Parameters: []parameter{
				{Name: "courantNumber", Value: "0.50"},
				{Name: "groupSize", Value: "32x8"},
			}},
			Boundaries: boundaryConditions{SourceDir: BoundariesDir + "/", Timeseries: series},
		})
	}
	return cfg
}

// Describe returns a one-line summary of a definition for status output.
func Describe(def Definition) string {
	def = def.withDefaults()
	var parts []string
	parts = append(parts, fmt.Sprintf("duration %ss", formatFloat(def.Duration)))
	if def.Boundaries.HasRainfall() {
		parts = append(parts, fmt.Sprintf("rainfall %s mm/hr for %ss",
			formatFloat(def.Boundaries.RainfallIntensity), formatFloat(def.Boundaries.RainfallDuration)))
	}
	if def.Boundaries.HasDrainage() {
		parts = append(parts, fmt.Sprintf("drainage %s mm/hr", formatFloat(def.Boundaries.DrainageRate)))
	}
	return def.Name + ": " + strings.Join(parts, ", ")
}
