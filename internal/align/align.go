// Copyright (C) 2024 The burstlight authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package align estimates per-tile translations between the reference
// frame of a burst and each alternate frame. The search runs
// coarse-to-fine on a gray pyramid: every level refines the offset
// inherited from its parent tile over a local window, so large motions
// are found at low cost while the finest level stays sub-tile accurate.
package align

import (
	"fmt"
	"io"
	"sync"

	"burstlight/internal/img"
	"burstlight/internal/pyramid"
)

// Config controls the hierarchical tile search.
type Config struct {
	TileSize     int32 // tile edge on the gray plane, in gray pixels
	Levels       int32 // pyramid levels including the gray plane itself
	SearchRadius int32 // search radius at the finest level, in gray pixels
	MaxThreads   int32 // concurrent tile workers; <=1 runs serially
}

// DefaultConfig returns the search parameters that work well for
// handheld bursts of a few frames.
func DefaultConfig() Config {
	return Config{TileSize: 16, Levels: 4, SearchRadius: 4}
}

// maxRadius caps the per-level search radius as it doubles toward the
// coarse end of the pyramid.
const maxRadius = 16

// An OffsetField holds one translation per tile, in full-resolution
// mosaic pixel units. Offsets are always even so that applying them to
// a Bayer mosaic lands on the same CFA phase.
type OffsetField struct {
	TilesX   int32
	TilesY   int32
	TileSize int32 // tile edge in mosaic pixels (2x the gray tile)
	Dx       []int32
	Dy       []int32
}

// Tile returns the offset for tile (tx, ty).
func (f *OffsetField) Tile(tx, ty int32) (dx, dy int32) {
	i := ty*f.TilesX + tx
	return f.Dx[i], f.Dy[i]
}

// Align estimates the offset field mapping the alternate frame onto the
// reference frame. Both frames must be raw mosaics of equal dimensions;
// the search itself runs on half-resolution gray planes derived from
// the Bayer cells.
func Align(ref, alt *img.Image, cfg Config, log io.Writer) (*OffsetField, error) {
	if !ref.EqualDims(alt) {
		return nil, fmt.Errorf("align %s vs %s: %w", ref.DimensionsToString(), alt.DimensionsToString(), img.ErrInvalidBurst)
	}
	if cfg.TileSize < 8 {
		cfg.TileSize = 8
	}
	if cfg.SearchRadius < 1 {
		cfg.SearchRadius = 1
	}

	refPyr := pyramid.Build(pyramid.GrayFromBayer(ref), cfg.Levels, 2)
	altPyr := pyramid.Build(pyramid.GrayFromBayer(alt), cfg.Levels, 2)
	if log != nil {
		fmt.Fprintf(log, "Aligning frame %d onto %d: %d pyramid levels, tile %d, radius %d\n",
			alt.ID, ref.ID, len(refPyr), cfg.TileSize, cfg.SearchRadius)
	}

	var field *levelField
	for l := 0; l < len(refPyr); l++ {
		radius := cfg.SearchRadius
		for i := len(refPyr) - 1 - l; i > 0; i-- {
			radius *= 2
		}
		if radius > maxRadius {
			radius = maxRadius
		}
		field = searchLevel(refPyr[l], altPyr[l], field, cfg.TileSize, radius, cfg.MaxThreads)
	}

	// gray plane offsets -> mosaic units, always even
	out := &OffsetField{
		TilesX:   field.tilesX,
		TilesY:   field.tilesY,
		TileSize: cfg.TileSize * 2,
		Dx:       make([]int32, len(field.dx)),
		Dy:       make([]int32, len(field.dy)),
	}
	for i := range field.dx {
		out.Dx[i] = field.dx[i] * 2
		out.Dy[i] = field.dy[i] * 2
	}
	return out, nil
}

// levelField is the per-level intermediate offset grid, in the pixel
// units of that level's plane.
type levelField struct {
	tilesX int32
	tilesY int32
	dx     []int32
	dy     []int32
}

// parent returns the inherited offset for tile (tx, ty) of a plane that
// is twice the size of the one this field was computed on. A nil field
// inherits zero.
func (f *levelField) parent(tx, ty int32) (dx, dy int32) {
	if f == nil {
		return 0, 0
	}
	px, py := tx/2, ty/2
	if px >= f.tilesX {
		px = f.tilesX - 1
	}
	if py >= f.tilesY {
		py = f.tilesY - 1
	}
	i := py*f.tilesX + px
	return f.dx[i] * 2, f.dy[i] * 2
}

func searchLevel(ref, alt pyramid.Plane, parent *levelField, tileSize, radius, maxThreads int32) *levelField {
	tilesX := (ref.Width + tileSize - 1) / tileSize
	tilesY := (ref.Height + tileSize - 1) / tileSize
	out := &levelField{
		tilesX: tilesX,
		tilesY: tilesY,
		dx:     make([]int32, tilesX*tilesY),
		dy:     make([]int32, tilesX*tilesY),
	}

	if maxThreads < 1 {
		maxThreads = 1
	}
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for ty := int32(0); ty < tilesY; ty++ {
		wg.Add(1)
		sem <- true
		go func(ty int32) {
			defer wg.Done()
			defer func() { <-sem }()
			for tx := int32(0); tx < tilesX; tx++ {
				px, py := parent.parent(tx, ty)
				dx, dy := searchTile(ref, alt, tx*tileSize, ty*tileSize, tileSize, px, py, radius)
				i := ty*tilesX + tx
				out.dx[i] = dx
				out.dy[i] = dy
			}
		}(ty)
	}
	wg.Wait()
	return out
}

// searchTile scans the (2r+1)^2 window around the inherited offset and
// returns the displacement with the lowest sum of absolute differences.
// Ties go to the smaller displacement magnitude, then to raster order
// of the candidates, so results do not depend on scheduling. A window
// whose candidates all fall fully outside the alternate frame keeps the
// inherited offset.
func searchTile(ref, alt pyramid.Plane, x0, y0, tileSize, px, py, radius int32) (int32, int32) {
	bestDx, bestDy := px, py
	bestSAD := float32(-1)
	bestMag := int32(0)
	for wy := -radius; wy <= radius; wy++ {
		for wx := -radius; wx <= radius; wx++ {
			dx, dy := px+wx, py+wy
			// skip candidates with no overlap at all
			if x0+dx+tileSize <= 0 || x0+dx >= alt.Width ||
				y0+dy+tileSize <= 0 || y0+dy >= alt.Height {
				continue
			}
			sad := tileSAD(ref, alt, x0, y0, tileSize, dx, dy)
			mag := dx*dx + dy*dy
			if bestSAD < 0 || sad < bestSAD || (sad == bestSAD && mag < bestMag) {
				bestSAD, bestDx, bestDy, bestMag = sad, dx, dy, mag
			}
		}
	}
	return bestDx, bestDy
}

func tileSAD(ref, alt pyramid.Plane, x0, y0, tileSize, dx, dy int32) float32 {
	sum := float32(0)
	for y := int32(0); y < tileSize; y++ {
		for x := int32(0); x < tileSize; x++ {
			d := ref.At(x0+x, y0+y) - alt.At(x0+x+dx, y0+y+dy)
			if d < 0 {
				d = -d
			}
			sum += d
		}
	}
	return sum
}
