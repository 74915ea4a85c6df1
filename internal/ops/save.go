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

package ops

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/tiff"

	"burstlight/internal/img"
)

// OpSave writes an image to disk, choosing the codec from the file
// suffix: .jpg/.jpeg and .png store 8-bit sRGB, .tif/.tiff stores
// 16-bit linear values. A %d in the pattern is replaced by the image
// ID.
type OpSave struct {
	OpBase
	FilePattern string `json:"filePattern"`
	Quality     int    `json:"quality"`
}

func init() {
	SetOperatorFactory("save", func() Operator { return NewOpSave("", 95) })
}

func NewOpSave(filePattern string, quality int) *OpSave {
	return &OpSave{OpBase: OpBase{Type: "save"}, FilePattern: filePattern, Quality: quality}
}

// Apply wraps each input promise so the materialized image is written
// out and then passed through unchanged.
func (op *OpSave) Apply(ins []Promise, c *Context) ([]Promise, error) {
	if op.FilePattern == "" {
		return ins, nil
	}
	outs := make([]Promise, len(ins))
	for i, in := range ins {
		if in == nil {
			continue
		}
		in := in
		outs[i] = func() (*img.Image, error) {
			f, err := in()
			if err != nil {
				return nil, err
			}
			fileName := op.FilePattern
			if strings.Contains(fileName, "%d") {
				fileName = fmt.Sprintf(fileName, f.ID)
			}
			if err := saveImage(f, fileName, op.Quality); err != nil {
				return nil, err
			}
			if c.Log != nil {
				fmt.Fprintf(c.Log, "%d: Saved %s %s\n", f.ID, fileName, f.DimensionsToString())
			}
			return f, nil
		}
	}
	return outs, nil
}

func saveImage(f *img.Image, fileName string, quality int) error {
	w, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("create %s: %w", fileName, err)
	}
	defer w.Close()
	buf := bufio.NewWriter(w)
	defer buf.Flush()

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(buf, toSRGB(f), &jpeg.Options{Quality: quality})
	case ".png":
		return png.Encode(buf, toSRGB(f))
	case ".tif", ".tiff":
		return tiff.Encode(buf, toGray16(f), &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%s: unknown image suffix", fileName)
	}
}

// toSRGB converts linear RGB or grayscale in [0, 1] to an 8-bit sRGB
// raster.
func toSRGB(f *img.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(f.Width), int(f.Height)))
	size := f.PlaneSize()
	for y := int32(0); y < f.Height; y++ {
		for x := int32(0); x < f.Width; x++ {
			i := y*f.Width + x
			var col colorful.Color
			if f.Channels == 3 {
				col = colorful.LinearRgb(float64(f.Pix[i]), float64(f.Pix[size+i]), float64(f.Pix[2*size+i]))
			} else {
				v := float64(f.Pix[i])
				col = colorful.LinearRgb(v, v, v)
			}
			r, g, b := col.Clamped().RGB255()
			out.SetRGBA(int(x), int(y), color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}

// toGray16 stores the first channel as linear 16-bit samples.
func toGray16(f *img.Image) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, int(f.Width), int(f.Height)))
	for y := int32(0); y < f.Height; y++ {
		for x := int32(0); x < f.Width; x++ {
			v := f.Pix[y*f.Width+x]
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			out.SetGray16(int(x), int(y), color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}
	return out
}
