// Package domain assembles the terrain layers of a model domain, either
// from surveyed tiles (world domains) or from an analytic test case
// (laboratory domains).
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hipims/modelbuilder/internal/events"
	"github.com/hipims/modelbuilder/internal/testcases"
	"github.com/hipims/modelbuilder/internal/tile"
	"github.com/hipims/modelbuilder/internal/workspace"
	"github.com/hipims/modelbuilder/pkg/geo"
	"github.com/hipims/modelbuilder/pkg/raster"
	"github.com/hipims/modelbuilder/pkg/rastertools"
)

var (
	// ErrOutsideGrid is returned when part of a world extent has no grid
	// reference.
	ErrOutsideGrid = errors.New("domain: extent lies outside the national grid")

	ErrUnknownType  = errors.New("domain: unknown domain type")
	ErrNoTopography = errors.New("domain: no topography available")
	ErrNotPrepared  = errors.New("domain: not prepared")
)

// Type selects how a domain's terrain is produced.
type Type string

const (
	World      Type = "world"
	Laboratory Type = "laboratory"
	Imaginary  Type = "imaginary"
)

// ParseType validates a domain type name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case World, Laboratory, Imaginary:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// DefaultResolution is the grid resolution in metres used when none is
// given.
const DefaultResolution = 2.0

// Request describes the domain to build.
type Request struct {
	Name       string
	Extent     geo.Extent
	Resolution float64
	Format     raster.Format // format of written rasters; default EHdr

	// Parts and Overlap split the clipped terrain of a world domain into
	// overlapping row bands. Parts <= 1 disables the split.
	Parts   int
	Overlap int

	// Constants parameterise laboratory test cases.
	Constants testcases.Constants
}

func (r Request) withDefaults() Request {
	if r.Resolution <= 0 {
		r.Resolution = DefaultResolution
	}
	if r.Format == "" {
		r.Format = raster.EHdr
	}
	return r
}

// Services are the collaborators shared by all domains. Tiles is only
// needed for world domains.
type Services struct {
	Workspace *workspace.Workspace
	Tools     *rastertools.Tools
	Tiles     *tile.Registry
	Events    events.Publisher // optional
	Logger    *slog.Logger     // optional
}

func (s *Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Services) publish(ctx context.Context, name, stage string, detail any) {
	if s.Events == nil {
		return
	}
	ev := events.Domain(name, stage, detail)
	if err := s.Events.Publish(ctx, ev); err != nil {
		s.logger().Warn("event publish failed", "subject", ev.Subject(), "error", err)
	}
}

// Layers holds the workspace keys of a prepared domain's rasters. Empty
// keys are layers the domain does not provide.
type Layers struct {
	Topography string
	Depth      string
	FSL        string
	VelocityX  string
	VelocityY  string
	Parts      []string
}

// Domain produces the terrain of a model.
type Domain interface {
	Name() string
	Type() Type
	Extent() geo.Extent
	Resolution() float64
	Manning() float64
	Prepare(ctx context.Context) error
	Layers() Layers
}

// New returns the domain implementation for t.
func New(t Type, req Request, svc *Services) (Domain, error) {
	req = req.withDefaults()
	switch t {
	case World:
		if svc.Tiles == nil {
			return nil, fmt.Errorf("domain %s: world domains need a tile registry", req.Name)
		}
		return NewWorld(req, svc), nil
	case Laboratory, Imaginary:
		return NewLab(t, req, svc)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// DataSource is one input layer of the model configuration.
type DataSource struct {
	Kind   string // "raster" or "constant"
	Value  string // the quantity the layer sets
	Source string // model file name, or the constant value
	// CopyFrom is the workspace key copied to Source for raster layers.
	CopyFrom string
}

// Model file names of raster layers.
const (
	ModelTopography = "MODEL_TOPOGRAPHY"
	ModelDepth      = "MODEL_INITIAL_DEPTH"
	ModelFSL        = "MODEL_INITIAL_FSL"
	ModelVelocityX  = "MODEL_INITIAL_VEL_X"
	ModelVelocityY  = "MODEL_INITIAL_VEL_Y"
)

// DataSources lists the model inputs of a prepared domain: topography, then
// initial depth, or free surface level, or a zero depth, then both velocity
// components as rasters or zero. format is the extension given to model
// file names.
func DataSources(l Layers, format raster.Format) ([]DataSource, error) {
	if l.Topography == "" {
		return nil, ErrNoTopography
	}
	ext := format.Extension()
	rasterSource := func(value, name, key string) DataSource {
		return DataSource{Kind: "raster", Value: value, Source: name + ext, CopyFrom: key}
	}
	constant := func(value string) DataSource {
		return DataSource{Kind: "constant", Value: value, Source: "0.0"}
	}

	out := []DataSource{rasterSource("structure,dem", ModelTopography, l.Topography)}
	switch {
	case l.Depth != "":
		out = append(out, rasterSource("depth", ModelDepth, l.Depth))
	case l.FSL != "":
		out = append(out, rasterSource("fsl", ModelFSL, l.FSL))
	default:
		out = append(out, constant("depth"))
	}
	if l.VelocityX != "" {
		out = append(out, rasterSource("velocityX", ModelVelocityX, l.VelocityX))
	} else {
		out = append(out, constant("velocityX"))
	}
	if l.VelocityY != "" {
		out = append(out, rasterSource("velocityY", ModelVelocityY, l.VelocityY))
	} else {
		out = append(out, constant("velocityY"))
	}
	return out, nil
}
