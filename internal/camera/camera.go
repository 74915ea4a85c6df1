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

package camera

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Error kinds surfaced by burst and metadata validation. Callers match
// them with errors.Is.
var (
	ErrInvalidMetadata   = errors.New("invalid camera metadata")
	ErrNumericDegenerate = errors.New("degenerate numeric range")
)

// CFAPattern identifies the repeating 2x2 color filter layout of the
// sensor mosaic. The tag is resolved once at the loader boundary and
// carried as typed metadata from then on.
type CFAPattern int32

const (
	RGGB CFAPattern = iota + 1
	GRBG
	BGGR
	RGBG
)

// ParseCFA resolves a layout string from burst metadata into a pattern tag.
func ParseCFA(s string) (CFAPattern, error) {
	switch strings.ToUpper(s) {
	case "RGGB":
		return RGGB, nil
	case "GRBG":
		return GRBG, nil
	case "BGGR":
		return BGGR, nil
	case "RGBG":
		return RGBG, nil
	}
	return 0, fmt.Errorf("%w: unknown CFA pattern %q", ErrInvalidMetadata, s)
}

func (p CFAPattern) String() string {
	switch p {
	case RGGB:
		return "RGGB"
	case GRBG:
		return "GRBG"
	case BGGR:
		return "BGGR"
	case RGBG:
		return "RGBG"
	}
	return fmt.Sprintf("CFAPattern(%d)", int32(p))
}

// Color channel indices for demosaiced planes.
const (
	Red int32 = iota
	Green
	Blue
)

// channels[p][ (y%2)*2 + (x%2) ] is the color channel sampled at mosaic
// position (x,y) for pattern p.
var channels = map[CFAPattern][4]int32{
	RGGB: {Red, Green, Green, Blue},
	GRBG: {Green, Red, Blue, Green},
	BGGR: {Blue, Green, Green, Red},
	RGBG: {Red, Green, Blue, Green},
}

// gainSlots[p][ (y%2)*2 + (x%2) ] indexes into Metadata.WhiteBalance,
// which is ordered R, G0, G1, B. G0 is the first green position in
// raster order, G1 the second.
var gainSlots = map[CFAPattern][4]int32{
	RGGB: {0, 1, 2, 3},
	GRBG: {1, 0, 3, 2},
	BGGR: {3, 1, 2, 0},
	RGBG: {0, 1, 3, 2},
}

// Channel returns the color channel sampled at mosaic position (x,y).
func (p CFAPattern) Channel(x, y int32) int32 {
	return channels[p][(y&1)*2+(x&1)]
}

// GainSlot returns the white balance gain index (R=0, G0=1, G1=2, B=3)
// for mosaic position (x,y).
func (p CFAPattern) GainSlot(x, y int32) int32 {
	return gainSlots[p][(y&1)*2+(x&1)]
}

func (p CFAPattern) valid() bool {
	_, ok := channels[p]
	return ok
}

// Metadata holds the per-burst camera constants the finisher needs.
// All frames of a burst share one Metadata value.
type Metadata struct {
	WhiteBalance [4]float32 // gains for R, G0, G1, B sensor positions
	BlackLevel   int32
	WhiteLevel   int32
	CFA          CFAPattern
	ColorMatrix  [9]float64 // row-major camera RGB -> linear sRGB
}

// IdentityColorMatrix is the color correction matrix that leaves camera
// RGB unchanged.
func IdentityColorMatrix() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// NewMetadata returns metadata with unity gains, an identity color
// matrix and the full 16 bit range.
func NewMetadata(cfa CFAPattern) *Metadata {
	return &Metadata{
		WhiteBalance: [4]float32{1, 1, 1, 1},
		BlackLevel:   0,
		WhiteLevel:   65535,
		CFA:          cfa,
		ColorMatrix:  IdentityColorMatrix(),
	}
}

// Validate fails fast on metadata that would corrupt the finishing
// stages: inverted or collapsed levels, unknown CFA tags, non-positive
// gains, or a color matrix too close to singular to invert.
func (m *Metadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: missing metadata", ErrInvalidMetadata)
	}
	if m.WhiteLevel == m.BlackLevel {
		return fmt.Errorf("%w: white level equals black level %d", ErrNumericDegenerate, m.BlackLevel)
	}
	if m.WhiteLevel < m.BlackLevel {
		return fmt.Errorf("%w: white level %d below black level %d", ErrInvalidMetadata, m.WhiteLevel, m.BlackLevel)
	}
	if !m.CFA.valid() {
		return fmt.Errorf("%w: unknown CFA pattern tag %d", ErrInvalidMetadata, int32(m.CFA))
	}
	for i, g := range m.WhiteBalance {
		if g <= 0 || math.IsNaN(float64(g)) {
			return fmt.Errorf("%w: white balance gain %d is %g", ErrInvalidMetadata, i, g)
		}
	}
	det := mat.Det(m.colorMatrixDense())
	if math.Abs(det) < 1e-9 || math.IsNaN(det) {
		return fmt.Errorf("%w: color matrix is degenerate (det=%g)", ErrInvalidMetadata, det)
	}
	return nil
}

func (m *Metadata) colorMatrixDense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), m.ColorMatrix[:]...))
}

// Range returns the usable dynamic range in DN.
func (m *Metadata) Range() float32 {
	return float32(m.WhiteLevel - m.BlackLevel)
}
