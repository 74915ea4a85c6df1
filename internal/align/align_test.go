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

package align

import (
	"errors"
	"math"
	"testing"

	"burstlight/internal/img"
)

// pattern is a smooth but textured test signal so every tile has
// something to lock onto at every pyramid level.
func pattern(x, y int32) float32 {
	fx, fy := float64(x), float64(y)
	return float32(math.Sin(fx*0.07) + math.Cos(fy*0.05) + 0.5*math.Sin((fx+fy)*0.013))
}

func makeFrame(w, h int32, shiftX int32) *img.Image {
	f := img.New(w, h, 1)
	for y := int32(0); y < h; y++ {
		for x := int32(0); x < w; x++ {
			f.Pix[y*w+x] = pattern(x-shiftX, y)
		}
	}
	return f
}

func TestAlignIdentical(t *testing.T) {
	ref := makeFrame(256, 256, 0)
	field, err := Align(ref, ref, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if field.TilesX < 2 || field.TilesY < 2 {
		t.Fatalf("tiles=%dx%d; want a multi-tile grid", field.TilesX, field.TilesY)
	}
	if field.TileSize != 32 {
		t.Errorf("tileSize=%d; want 32 mosaic pixels", field.TileSize)
	}
	for i := range field.Dx {
		if field.Dx[i] != 0 || field.Dy[i] != 0 {
			t.Errorf("tile %d offset (%d,%d); want (0,0)", i, field.Dx[i], field.Dy[i])
		}
	}
}

func TestAlignGlobalShift(t *testing.T) {
	ref := makeFrame(256, 256, 0)
	alt := makeFrame(256, 256, 8) // alt content moved right by 8 mosaic pixels
	field, err := Align(ref, alt, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	// edge tiles see clamped samples, so check the interior only
	for ty := int32(1); ty < field.TilesY-1; ty++ {
		for tx := int32(1); tx < field.TilesX-1; tx++ {
			dx, dy := field.Tile(tx, ty)
			if dx != 8 || dy != 0 {
				t.Errorf("tile (%d,%d) offset (%d,%d); want (8,0)", tx, ty, dx, dy)
			}
		}
	}
}

func TestAlignOffsetsEven(t *testing.T) {
	ref := makeFrame(128, 128, 0)
	alt := makeFrame(128, 128, 2)
	field, err := Align(ref, alt, Config{TileSize: 16, Levels: 3, SearchRadius: 4, MaxThreads: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := range field.Dx {
		if field.Dx[i]%2 != 0 || field.Dy[i]%2 != 0 {
			t.Errorf("tile %d offset (%d,%d); want even components", i, field.Dx[i], field.Dy[i])
		}
	}
}

func TestAlignDimensionMismatch(t *testing.T) {
	ref := makeFrame(128, 128, 0)
	alt := makeFrame(128, 64, 0)
	if _, err := Align(ref, alt, DefaultConfig(), nil); !errors.Is(err, img.ErrInvalidBurst) {
		t.Errorf("err=%v; want ErrInvalidBurst", err)
	}
}
