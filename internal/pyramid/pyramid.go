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

// Package pyramid builds the multi-resolution representations the tile
// aligner searches on. Downsampling is a plain box average rather than
// subsampling, so coarse levels stay alias-free.
package pyramid

import (
	"burstlight/internal/img"
)

// A Plane is one single-channel raster of a pyramid.
type Plane struct {
	Width  int32
	Height int32
	Pix    []float32
}

func NewPlane(width, height int32) Plane {
	return Plane{Width: width, Height: height, Pix: make([]float32, int(width)*int(height))}
}

// At returns the sample at (x, y), clamping coordinates to the plane.
func (p Plane) At(x, y int32) float32 {
	if x < 0 {
		x = 0
	} else if x >= p.Width {
		x = p.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.Height {
		y = p.Height - 1
	}
	return p.Pix[y*p.Width+x]
}

// GrayFromBayer reduces a raw mosaic to a half-resolution gray plane by
// box-averaging each 2x2 Bayer cell. Alignment on this plane keeps
// offsets at Bayer cell granularity, which preserves CFA phase when the
// merger applies them at full resolution.
func GrayFromBayer(f *img.Image) Plane {
	w, h := f.Width/2, f.Height/2
	out := NewPlane(w, h)
	for y := int32(0); y < h; y++ {
		srcRow := (y * 2) * f.Width
		dstRow := y * w
		for x := int32(0); x < w; x++ {
			s := x * 2
			sum := f.Pix[srcRow+s] + f.Pix[srcRow+s+1] +
				f.Pix[srcRow+f.Width+s] + f.Pix[srcRow+f.Width+s+1]
			out.Pix[dstRow+x] = sum * 0.25
		}
	}
	return out
}

// DownsampleBox shrinks a plane by an integer factor using a box
// average. Edge cells that do not divide evenly are filled by clamping
// sample coordinates to the plane boundary, keeping the average over
// exactly factor*factor taps so results stay deterministic.
func DownsampleBox(p Plane, factor int32) Plane {
	outW := (p.Width + factor - 1) / factor
	outH := (p.Height + factor - 1) / factor
	out := NewPlane(outW, outH)
	norm := 1.0 / float32(factor*factor)
	for y := int32(0); y < outH; y++ {
		for x := int32(0); x < outW; x++ {
			sum := float32(0)
			for dy := int32(0); dy < factor; dy++ {
				for dx := int32(0); dx < factor; dx++ {
					sum += p.At(x*factor+dx, y*factor+dy)
				}
			}
			out.Pix[y*outW+x] = sum * norm
		}
	}
	return out
}

// minCoarseDim is the smallest linear size a coarsest level may have;
// levels that would shrink below it are not built.
const minCoarseDim = 32

// Build returns levels progressively downsampled copies of p, coarsest
// first and p itself last. Each step shrinks by factor. The level count
// is clamped so the coarsest plane keeps at least minCoarseDim samples
// per side; at least one level (p itself) is always returned.
func Build(p Plane, levels, factor int32) []Plane {
	if levels < 1 {
		levels = 1
	}
	if factor < 2 {
		factor = 2
	}
	for levels > 1 {
		shrink := int32(1)
		for i := int32(1); i < levels; i++ {
			shrink *= factor
		}
		if p.Width/shrink >= minCoarseDim && p.Height/shrink >= minCoarseDim {
			break
		}
		levels--
	}
	out := make([]Plane, levels)
	out[levels-1] = p
	for i := levels - 2; i >= 0; i-- {
		out[i] = DownsampleBox(out[i+1], factor)
	}
	return out
}
