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

// Package finish renders a merged raw mosaic into a displayable RGB
// image: black/white normalization, white balance, demosaic, color
// matrix and tone mapping, each as a composable operator.
package finish

import (
	"fmt"
	"math"

	"burstlight/internal/camera"
	"burstlight/internal/img"
	"burstlight/internal/ops"
)

func init() {
	ops.SetOperatorFactory("normalize", func() ops.Operator { return NewOpNormalize() })
	ops.SetOperatorFactory("whiteBalance", func() ops.Operator { return NewOpWhiteBalance() })
	ops.SetOperatorFactory("demosaic", func() ops.Operator { return NewOpDemosaic() })
	ops.SetOperatorFactory("colorCorrect", func() ops.Operator { return NewOpColorCorrect() })
	ops.SetOperatorFactory("toneMap", func() ops.Operator { return NewOpToneMap(0, 1, 1) })
}

// NewOpFinish chains the full finishing sequence with the given tone
// parameters.
func NewOpFinish(compression, gain, contrast float32) *ops.OpSequence {
	return ops.NewOpSequence(
		NewOpNormalize(),
		NewOpWhiteBalance(),
		NewOpDemosaic(),
		NewOpColorCorrect(),
		NewOpToneMap(compression, gain, contrast),
	)
}

func requireMeta(f *img.Image) error {
	if f.Meta == nil {
		return fmt.Errorf("image %d has no metadata: %w", f.ID, camera.ErrInvalidMetadata)
	}
	return f.Meta.Validate()
}

// OpNormalize maps raw values from [black, white] to [0, 1], clamping
// at both ends.
type OpNormalize struct {
	ops.OpUnaryBase
}

func NewOpNormalize() *OpNormalize {
	op := &OpNormalize{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "normalize"}}}
	op.Apply1 = op.apply
	return op
}

func (op *OpNormalize) apply(f *img.Image, c *ops.Context) (*img.Image, error) {
	if err := requireMeta(f); err != nil {
		return nil, err
	}
	black := float32(f.Meta.BlackLevel)
	scale := 1 / float32(f.Meta.WhiteLevel-f.Meta.BlackLevel)
	out := img.NewFrom(f)
	for i, v := range f.Pix {
		out.Pix[i] = clamp01((v - black) * scale)
	}
	return out, nil
}

// OpWhiteBalance scales each CFA slot of a normalized mosaic by its
// channel gain.
type OpWhiteBalance struct {
	ops.OpUnaryBase
}

func NewOpWhiteBalance() *OpWhiteBalance {
	op := &OpWhiteBalance{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "whiteBalance"}}}
	op.Apply1 = op.apply
	return op
}

func (op *OpWhiteBalance) apply(f *img.Image, c *ops.Context) (*img.Image, error) {
	if err := requireMeta(f); err != nil {
		return nil, err
	}
	if f.Channels != 1 {
		return nil, fmt.Errorf("white balance needs a mosaic, got %d channels: %w", f.Channels, img.ErrInvalidBurst)
	}
	// gains for the four CFA cell positions, in raster order
	var cellGain [4]float32
	for y := int32(0); y < 2; y++ {
		for x := int32(0); x < 2; x++ {
			cellGain[y*2+x] = f.Meta.WhiteBalance[f.Meta.CFA.GainSlot(x, y)]
		}
	}
	out := img.NewFrom(f)
	for y := int32(0); y < f.Height; y++ {
		row := y * f.Width
		g0, g1 := cellGain[(y&1)*2], cellGain[(y&1)*2+1]
		for x := int32(0); x < f.Width; x += 2 {
			out.Pix[row+x] = f.Pix[row+x] * g0
			if x+1 < f.Width {
				out.Pix[row+x+1] = f.Pix[row+x+1] * g1
			}
		}
	}
	return out, nil
}

// OpDemosaic interpolates the mosaic into a 3-channel linear RGB
// image. Each output sample averages the same-channel mosaic values in
// the 3x3 neighborhood, which handles every supported CFA layout
// uniformly, including those with two green positions per cell.
type OpDemosaic struct {
	ops.OpUnaryBase
}

func NewOpDemosaic() *OpDemosaic {
	op := &OpDemosaic{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "demosaic"}}}
	op.Apply1 = op.apply
	return op
}

func (op *OpDemosaic) apply(f *img.Image, c *ops.Context) (*img.Image, error) {
	if err := requireMeta(f); err != nil {
		return nil, err
	}
	if f.Channels != 1 {
		return nil, fmt.Errorf("demosaic needs a mosaic, got %d channels: %w", f.Channels, img.ErrInvalidBurst)
	}
	out := img.New(f.Width, f.Height, 3)
	out.ID, out.FileName, out.Meta = f.ID, f.FileName, f.Meta
	size := f.PlaneSize()
	cfa := f.Meta.CFA
	for y := int32(0); y < f.Height; y++ {
		for x := int32(0); x < f.Width; x++ {
			var sum [3]float32
			var n [3]int32
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					sx, sy := x+dx, y+dy
					if sx < 0 || sx >= f.Width || sy < 0 || sy >= f.Height {
						continue
					}
					ch := cfa.Channel(sx, sy)
					sum[ch] += f.Pix[sy*f.Width+sx]
					n[ch]++
				}
			}
			i := y*f.Width + x
			for ch := int32(0); ch < 3; ch++ {
				if n[ch] > 0 {
					out.Pix[ch*size+i] = sum[ch] / float32(n[ch])
				}
			}
		}
	}
	return out, nil
}

// OpColorCorrect applies the camera-to-working-space color matrix to a
// linear RGB image. An identity matrix passes values through untouched.
type OpColorCorrect struct {
	ops.OpUnaryBase
}

func NewOpColorCorrect() *OpColorCorrect {
	op := &OpColorCorrect{OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "colorCorrect"}}}
	op.Apply1 = op.apply
	return op
}

func (op *OpColorCorrect) apply(f *img.Image, c *ops.Context) (*img.Image, error) {
	if err := requireMeta(f); err != nil {
		return nil, err
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("color correction needs RGB, got %d channels: %w", f.Channels, img.ErrInvalidBurst)
	}
	m := f.Meta.ColorMatrix
	out := img.NewFrom(f)
	size := f.PlaneSize()
	for i := int32(0); i < size; i++ {
		r := float64(f.Pix[i])
		g := float64(f.Pix[size+i])
		b := float64(f.Pix[2*size+i])
		out.Pix[i] = float32(m[0]*r + m[1]*g + m[2]*b)
		out.Pix[size+i] = float32(m[3]*r + m[4]*g + m[5]*b)
		out.Pix[2*size+i] = float32(m[6]*r + m[7]*g + m[8]*b)
	}
	return out, nil
}

// OpToneMap applies exposure gain, logarithmic range compression and a
// mid-anchored contrast curve to the luminance, scaling RGB uniformly
// so hue is preserved. Compression 0 and contrast 1 are exact
// identities on their respective stages.
type OpToneMap struct {
	ops.OpUnaryBase
	Compression float32 `json:"compression"`
	Gain        float32 `json:"gain"`
	Contrast    float32 `json:"contrast"`
}

func NewOpToneMap(compression, gain, contrast float32) *OpToneMap {
	op := &OpToneMap{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "toneMap"}},
		Compression: compression,
		Gain:        gain,
		Contrast:    contrast,
	}
	op.Apply1 = op.apply
	return op
}

func (op *OpToneMap) apply(f *img.Image, c *ops.Context) (*img.Image, error) {
	if f.Channels != 3 {
		return nil, fmt.Errorf("tone mapping needs RGB, got %d channels: %w", f.Channels, img.ErrInvalidBurst)
	}
	gain := op.Gain
	if gain <= 0 {
		gain = 1
	}
	out := img.NewFrom(f)
	size := f.PlaneSize()
	logDenom := 0.0
	if op.Compression > 0 {
		logDenom = math.Log1p(float64(op.Compression))
	}
	for i := int32(0); i < size; i++ {
		r := f.Pix[i] * gain
		g := f.Pix[size+i] * gain
		b := f.Pix[2*size+i] * gain
		lum := 0.2126*r + 0.7152*g + 0.0722*b
		mapped := lum
		if op.Compression > 0 && mapped > 0 {
			mapped = float32(math.Log1p(float64(op.Compression)*float64(mapped)) / logDenom)
		}
		if op.Contrast != 1 && mapped > 0 {
			mapped = contrastCurve(mapped, op.Contrast)
		}
		if lum > 0 && mapped != lum {
			scale := mapped / lum
			r, g, b = r*scale, g*scale, b*scale
		}
		out.Pix[i] = clamp01(r)
		out.Pix[size+i] = clamp01(g)
		out.Pix[2*size+i] = clamp01(b)
	}
	return out, nil
}

// contrastCurve is a mid-anchored S-curve: values at 0.5 stay fixed,
// k>1 steepens around the middle, k<1 flattens. k=1 is the identity.
func contrastCurve(v, k float32) float32 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	if v < 0.5 {
		return 0.5 * float32(math.Pow(float64(2*v), float64(k)))
	}
	return 1 - 0.5*float32(math.Pow(float64(2*(1-v)), float64(k)))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
