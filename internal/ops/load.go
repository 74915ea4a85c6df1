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
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v2"

	"burstlight/internal/camera"
	"burstlight/internal/img"
	"burstlight/internal/stats"
)

// burstSidecar is the YAML description of the sensor state shared by
// all frames of a burst, stored as burst.yaml next to the raw files.
type burstSidecar struct {
	CFA          string     `yaml:"cfa"`
	BlackLevel   int32      `yaml:"blackLevel"`
	WhiteLevel   int32      `yaml:"whiteLevel"`
	WhiteBalance [4]float32 `yaml:"whiteBalance"`
	ColorMatrix  []float64  `yaml:"colorMatrix"`
}

// LoadMetadata reads a burst.yaml sidecar into validated camera
// metadata.
func LoadMetadata(fileName string) (*camera.Metadata, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}
	side := burstSidecar{}
	if err := yaml.UnmarshalStrict(data, &side); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	cfa, err := camera.ParseCFA(side.CFA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	meta := camera.NewMetadata(cfa)
	meta.BlackLevel = side.BlackLevel
	meta.WhiteLevel = side.WhiteLevel
	if side.WhiteBalance != [4]float32{} {
		meta.WhiteBalance = side.WhiteBalance
	}
	switch len(side.ColorMatrix) {
	case 0: // identity stays
	case 9:
		copy(meta.ColorMatrix[:], side.ColorMatrix)
	default:
		return nil, fmt.Errorf("%s: colorMatrix has %d entries, want 9: %w", fileName, len(side.ColorMatrix), camera.ErrInvalidMetadata)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return meta, nil
}

// OpLoad loads one 16-bit grayscale TIFF raw mosaic.
type OpLoad struct {
	OpBase
	ID       int              `json:"id"`
	FileName string           `json:"fileName"`
	Meta     *camera.Metadata `json:"-"`
}

func init() {
	SetOperatorFactory("load", func() Operator { return NewOpLoad(0, "", nil) })
	SetOperatorFactory("loadBurst", func() Operator { return NewOpLoadBurst("") })
}

func NewOpLoad(id int, fileName string, meta *camera.Metadata) *OpLoad {
	return &OpLoad{OpBase: OpBase{Type: "load"}, ID: id, FileName: fileName, Meta: meta}
}

// Apply appends a promise loading the file to the input promises.
func (op *OpLoad) Apply(ins []Promise, c *Context) ([]Promise, error) {
	out := func() (*img.Image, error) {
		f, err := loadTIFF(op.ID, op.FileName, op.Meta)
		if err != nil {
			return nil, err
		}
		if c.Log != nil {
			fmt.Fprintf(c.Log, "%d: Loaded %s %s %s\n",
				f.ID, f.FileName, f.DimensionsToString(), stats.NewStats(f.Pix))
		}
		return f, nil
	}
	return append(ins, out), nil
}

func loadTIFF(id int, fileName string, meta *camera.Metadata) (*img.Image, error) {
	r, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fileName, err)
	}
	defer r.Close()
	decoded, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fileName, err)
	}
	gray, ok := decoded.(*image.Gray16)
	if !ok {
		return nil, fmt.Errorf("%s: not a 16-bit grayscale image: %w", fileName, img.ErrInvalidBurst)
	}
	b := gray.Bounds()
	f := img.New(int32(b.Dx()), int32(b.Dy()), 1)
	f.ID = id
	f.FileName = fileName
	f.Meta = meta
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride:]
		dst := f.Pix[int32(y)*f.Width:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = float32(uint16(row[2*x])<<8 | uint16(row[2*x+1]))
		}
	}
	return f, nil
}

// OpLoadBurst loads every raw mosaic matching a glob pattern, in frame
// number order, attaching metadata from the burst.yaml sidecar in the
// same directory. The first match becomes the reference frame.
type OpLoadBurst struct {
	OpBase
	Pattern string `json:"pattern"`
}

func NewOpLoadBurst(pattern string) *OpLoadBurst {
	return &OpLoadBurst{OpBase: OpBase{Type: "loadBurst"}, Pattern: pattern}
}

// sortFrameNames orders frame file names by their trailing frame number,
// so frame2 precedes frame10. Names without a number sort lexically.
func sortFrameNames(names []string) {
	sort.Slice(names, func(i, j int) bool {
		pi, ni, oki := splitFrameNumber(names[i])
		pj, nj, okj := splitFrameNumber(names[j])
		if oki && okj && pi == pj && ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
}

// splitFrameNumber splits a file name into the part before the frame
// number and the number itself, ignoring the extension.
func splitFrameNumber(name string) (prefix string, num int64, ok bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	end := len(stem)
	start := end
	for start > 0 && stem[start-1] >= '0' && stem[start-1] <= '9' {
		start--
	}
	if start == end {
		return "", 0, false
	}
	num, err := strconv.ParseInt(stem[start:end], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return stem[:start], num, true
}

// Apply expands the pattern and appends one load promise per frame.
func (op *OpLoadBurst) Apply(ins []Promise, c *Context) ([]Promise, error) {
	matches, err := filepath.Glob(op.Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", op.Pattern, err)
	}
	if len(matches) < 2 {
		return nil, fmt.Errorf("%s matches %d frames, need at least 2: %w", op.Pattern, len(matches), img.ErrInvalidBurst)
	}
	sortFrameNames(matches)
	meta, err := LoadMetadata(filepath.Join(filepath.Dir(matches[0]), "burst.yaml"))
	if err != nil {
		return nil, err
	}
	if c.Log != nil {
		fmt.Fprintf(c.Log, "Burst of %d frames, CFA %s, range [%d, %d]\n",
			len(matches), meta.CFA, meta.BlackLevel, meta.WhiteLevel)
	}
	outs := ins
	for i, m := range matches {
		if outs, err = NewOpLoad(i, m, meta).Apply(outs, c); err != nil {
			return nil, err
		}
	}
	return outs, nil
}
