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

package img

import (
	"errors"
	"fmt"

	"burstlight/internal/camera"
)

// ErrInvalidBurst is wrapped by all burst validation failures.
var ErrInvalidBurst = errors.New("invalid burst")

// An Image holds either a single-channel sensor mosaic in digital
// numbers, or a finished multi-channel image in [0,1]. Channels are
// stored planar: Pix[c*W*H + y*W + x], matching the layout raw frames
// and finished planes share throughout the pipeline.
type Image struct {
	ID       int    // sequential ID for log output, counted from 0
	FileName string // original file name, if any, for log output

	Width    int32
	Height   int32
	Channels int32
	Pix      []float32

	Meta *camera.Metadata // shared per burst; nil for finished images
}

// New creates a zeroed image of the given geometry.
func New(width, height, channels int32) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, int(width)*int(height)*int(channels)),
	}
}

// NewFrom creates an image with the geometry, ID and metadata of src
// and a freshly allocated pixel array.
func NewFrom(src *Image) *Image {
	f := New(src.Width, src.Height, src.Channels)
	f.ID, f.FileName, f.Meta = src.ID, src.FileName, src.Meta
	return f
}

// PlaneSize returns the number of samples per channel.
func (f *Image) PlaneSize() int32 { return f.Width * f.Height }

// Plane returns the pixel slice of one channel.
func (f *Image) Plane(c int32) []float32 {
	n := int(f.PlaneSize())
	return f.Pix[int(c)*n : (int(c)+1)*n]
}

// At returns the first-channel sample at (x, y) without bounds checks.
func (f *Image) At(x, y int32) float32 {
	return f.Pix[y*f.Width+x]
}

// AtClamped returns the first-channel sample at (x, y) with coordinates
// clamped to the frame.
func (f *Image) AtClamped(x, y int32) float32 {
	if x < 0 {
		x = 0
	} else if x >= f.Width {
		x = f.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= f.Height {
		y = f.Height - 1
	}
	return f.Pix[y*f.Width+x]
}

func (f *Image) DimensionsToString() string {
	if f.Channels > 1 {
		return fmt.Sprintf("%dx%dx%d", f.Width, f.Height, f.Channels)
	}
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// EqualDims reports whether two images share geometry.
func (f *Image) EqualDims(g *Image) bool {
	return f.Width == g.Width && f.Height == g.Height && f.Channels == g.Channels
}

// A Burst is the ordered set of raw mosaic frames processed together.
// Frame 0 is the reference.
type Burst []*Image

// Validate fails fast before any alignment work: a burst needs at least
// two frames, identical geometry, single-channel mosaics and one
// consistent CFA tag.
func (b Burst) Validate() error {
	if len(b) < 2 {
		return fmt.Errorf("%w: need at least 2 frames, got %d", ErrInvalidBurst, len(b))
	}
	ref := b[0]
	if ref.Meta == nil {
		return fmt.Errorf("%w: reference frame carries no metadata", ErrInvalidBurst)
	}
	for _, f := range b {
		if f.Channels != 1 {
			return fmt.Errorf("%w: frame %d has %d channels, want mosaic", ErrInvalidBurst, f.ID, f.Channels)
		}
		if !ref.EqualDims(f) {
			return fmt.Errorf("%w: frame %d dimensions %s differ from reference %s",
				ErrInvalidBurst, f.ID, f.DimensionsToString(), ref.DimensionsToString())
		}
		if f.Meta != nil && f.Meta.CFA != ref.Meta.CFA {
			return fmt.Errorf("%w: frame %d CFA %v differs from reference %v",
				ErrInvalidBurst, f.ID, f.Meta.CFA, ref.Meta.CFA)
		}
	}
	return nil
}
