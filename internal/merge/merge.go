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

// Package merge combines an aligned burst into one denoised mosaic.
// Alternate frames contribute through a per-tile robustness weight that
// falls off with the tile's mean absolute difference from the
// reference, so misaligned or moving content fades out instead of
// ghosting. Tiles overlap by half their size and are blended with a
// raised cosine window.
//
// The accumulation is written as reference plus weighted corrections,
// out = ref + sum(w*(alt-ref)) / (1 + sum(w)), so a burst of identical
// frames reproduces the reference bit for bit.
package merge

import (
	"fmt"
	"io"
	"math"
	"sync"

	"burstlight/internal/align"
	"burstlight/internal/img"
)

// Config controls temporal merging.
type Config struct {
	// NoiseFraction scales the camera range into the expected noise
	// floor: differences below NoiseFraction*(white-black) are treated
	// as noise and weighted fully.
	NoiseFraction float32
	// Decay softens the weight falloff above the noise floor; larger
	// values tolerate larger differences.
	Decay      float32
	MaxThreads int32
}

func DefaultConfig() Config {
	return Config{NoiseFraction: 0.03, Decay: 1.0}
}

// Result is the merged mosaic plus the per-tile, per-frame robustness
// weights for diagnostics.
type Result struct {
	Mosaic *img.Image
	// Weights[frame][tile] for each alternate frame, indexed like the
	// offset field's tile grid.
	Weights [][]float32
	TilesX  int32
	TilesY  int32
}

// Merge blends the aligned alternate frames of a burst into its
// reference frame. fields[i] is the offset field for burst[i+1]; the
// reference is burst[0].
func Merge(burst img.Burst, fields []*align.OffsetField, cfg Config, log io.Writer) (*Result, error) {
	if err := burst.Validate(); err != nil {
		return nil, err
	}
	// the noise floor divides by the camera range, so degenerate levels
	// are a hard failure here, not a zero floor
	if err := burst[0].Meta.Validate(); err != nil {
		return nil, err
	}
	if len(fields) != len(burst)-1 {
		return nil, fmt.Errorf("%d offset fields for %d alternate frames: %w", len(fields), len(burst)-1, img.ErrInvalidBurst)
	}
	if cfg.NoiseFraction <= 0 {
		cfg.NoiseFraction = DefaultConfig().NoiseFraction
	}
	if cfg.Decay <= 0 {
		cfg.Decay = DefaultConfig().Decay
	}
	if cfg.MaxThreads < 1 {
		cfg.MaxThreads = 1
	}

	ref := burst[0]
	tileSize := fields[0].TileSize
	stride := tileSize / 2
	tilesX := numTiles(ref.Width, stride)
	tilesY := numTiles(ref.Height, stride)
	noiseFloor := cfg.NoiseFraction * float32(ref.Meta.WhiteLevel-ref.Meta.BlackLevel)

	if log != nil {
		fmt.Fprintf(log, "Merging %d frames: %dx%d blend tiles of %d px, noise floor %.1f DN\n",
			len(burst), tilesX, tilesY, tileSize, noiseFloor)
	}

	// pass 1: per-tile robustness weights, disjoint writes per tile
	weights := make([][]float32, len(burst)-1)
	for i := range weights {
		weights[i] = make([]float32, tilesX*tilesY)
	}
	runTiles(tilesX, tilesY, cfg.MaxThreads, func(tx, ty int32) {
		x0, y0 := tx*stride, ty*stride
		for i, alt := range burst[1:] {
			dx, dy := fieldOffset(fields[i], x0, y0)
			mad := tileMAD(ref, alt, x0, y0, tileSize, dx, dy)
			weights[i][ty*tilesX+tx] = robustness(mad, noiseFloor, cfg.Decay)
		}
	})

	// pass 2: windowed accumulation over disjoint row bands. Each band
	// owns a range of output rows and walks every tile overlapping it,
	// so no two goroutines touch the same output pixel.
	out := img.NewFrom(ref)
	acc := make([]float32, len(ref.Pix))
	winsum := make([]float32, len(ref.Pix))
	window := raisedCosine(tileSize)

	bands := cfg.MaxThreads * 4
	if bands > tilesY {
		bands = tilesY
	}
	runBands(ref.Height, bands, cfg.MaxThreads, func(rowLo, rowHi int32) {
		tyLo := (rowLo - tileSize + stride) / stride
		if tyLo < 0 {
			tyLo = 0
		}
		tyHi := (rowHi + stride - 1) / stride
		if tyHi > tilesY {
			tyHi = tilesY
		}
		for ty := tyLo; ty < tyHi; ty++ {
			for tx := int32(0); tx < tilesX; tx++ {
				accumulateTile(ref, burst[1:], fields, weights, window,
					tx, ty, tilesX, tileSize, stride, rowLo, rowHi, acc, winsum)
			}
		}
	})

	for i := range out.Pix {
		out.Pix[i] = ref.Pix[i] + acc[i]/(1+winsum[i])
	}
	return &Result{Mosaic: out, Weights: weights, TilesX: tilesX, TilesY: tilesY}, nil
}

// accumulateTile adds one tile's weighted corrections and window mass
// to the rows [rowLo, rowHi) of the accumulators.
func accumulateTile(ref *img.Image, alts []*img.Image, fields []*align.OffsetField,
	weights [][]float32, window []float32, tx, ty, tilesX, tileSize, stride, rowLo, rowHi int32,
	acc, winsum []float32) {

	x0, y0 := tx*stride, ty*stride
	yLo, yHi := y0, y0+tileSize
	if yLo < rowLo {
		yLo = rowLo
	}
	if yHi > rowHi {
		yHi = rowHi
	}
	if yLo >= yHi || x0 >= ref.Width {
		return
	}
	xHi := x0 + tileSize
	if xHi > ref.Width {
		xHi = ref.Width
	}
	for i, alt := range alts {
		w := weights[i][ty*tilesX+tx]
		if w == 0 {
			continue
		}
		dx, dy := fieldOffset(fields[i], x0, y0)
		for y := yLo; y < yHi; y++ {
			wy := window[y-y0]
			row := y * ref.Width
			for x := x0; x < xHi; x++ {
				win := w * wy * window[x-x0]
				r := ref.Pix[row+x]
				a := alt.AtClamped(x+dx, y+dy)
				acc[row+x] += win * (a - r)
				winsum[row+x] += win
			}
		}
	}
}

// fieldOffset looks up the alignment of the alignment tile containing
// the blend tile origin (x0, y0). Blend tiles are offset-field tiles at
// half stride, so the grid is clamped rather than assumed congruent.
func fieldOffset(f *align.OffsetField, x0, y0 int32) (int32, int32) {
	tx := x0 / f.TileSize
	ty := y0 / f.TileSize
	if tx >= f.TilesX {
		tx = f.TilesX - 1
	}
	if ty >= f.TilesY {
		ty = f.TilesY - 1
	}
	return f.Tile(tx, ty)
}

// tileMAD is the mean absolute difference between a reference tile and
// the offset alternate tile, sampled with clamping at frame edges.
func tileMAD(ref, alt *img.Image, x0, y0, tileSize, dx, dy int32) float32 {
	sum := float32(0)
	n := 0
	for y := y0; y < y0+tileSize && y < ref.Height; y++ {
		for x := x0; x < x0+tileSize && x < ref.Width; x++ {
			d := ref.Pix[y*ref.Width+x] - alt.AtClamped(x+dx, y+dy)
			if d < 0 {
				d = -d
			}
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}

// robustness maps a tile difference to a blend weight in (0, 1].
// Differences at or below the noise floor weigh 1; above it the weight
// decays exponentially at a rate set by decay. Merge validates the
// metadata range up front, so noiseFloor is always positive here.
func robustness(mad, noiseFloor, decay float32) float32 {
	excess := mad - noiseFloor
	if excess <= 0 {
		return 1
	}
	return float32(math.Exp(float64(-excess / (decay * noiseFloor))))
}

// raisedCosine returns the 1D blend window w(i) for a tile of size n.
// Windows at half-tile stride sum to a constant, which keeps flat
// regions flat across tile seams.
func raisedCosine(n int32) []float32 {
	w := make([]float32, n)
	for i := int32(0); i < n; i++ {
		w[i] = float32(0.5 - 0.5*math.Cos(2*math.Pi*(float64(i)+0.5)/float64(n)))
	}
	return w
}

func numTiles(extent, stride int32) int32 {
	n := (extent + stride - 1) / stride
	if n < 1 {
		n = 1
	}
	return n
}

// runTiles invokes fn for every tile of a grid, fanning rows of tiles
// out over maxThreads workers.
func runTiles(tilesX, tilesY, maxThreads int32, fn func(tx, ty int32)) {
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for ty := int32(0); ty < tilesY; ty++ {
		wg.Add(1)
		sem <- true
		go func(ty int32) {
			defer wg.Done()
			defer func() { <-sem }()
			for tx := int32(0); tx < tilesX; tx++ {
				fn(tx, ty)
			}
		}(ty)
	}
	wg.Wait()
}

// runBands splits [0, height) into bands contiguous rows and invokes fn
// for each, at most maxThreads at a time.
func runBands(height, bands, maxThreads int32, fn func(rowLo, rowHi int32)) {
	if bands < 1 {
		bands = 1
	}
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for b := int32(0); b < bands; b++ {
		lo := b * height / bands
		hi := (b + 1) * height / bands
		if lo >= hi {
			continue
		}
		wg.Add(1)
		sem <- true
		go func(lo, hi int32) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
