// Package geo provides the projected-coordinate extent arithmetic used to
// place rasters on a common grid: normalisation, outward snapping to a
// resolution, cell counts and decomposition into fixed-size tiles.
package geo
