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

package pipeline

import (
	"errors"
	"io"
	"math"
	"testing"

	"burstlight/internal/camera"
	"burstlight/internal/img"
	"burstlight/internal/ops"
)

func makeBurst(n int, w, h int32, value float32) img.Burst {
	meta := camera.NewMetadata(camera.RGGB)
	meta.BlackLevel = 0
	meta.WhiteLevel = 1023
	burst := make(img.Burst, n)
	for i := range burst {
		f := img.New(w, h, 1)
		f.ID = i
		f.Meta = meta
		for j := range f.Pix {
			f.Pix[j] = value
		}
		burst[i] = f
	}
	return burst
}

func TestProcessConstantBurst(t *testing.T) {
	burst := makeBurst(4, 128, 128, 511.5) // mid-range
	params := DefaultParams()
	params.Compression, params.Gain, params.Contrast = 0, 1, 1

	var stages []Stage
	var lastFrac float32
	progress := func(stage Stage, frac float32) {
		stages = append(stages, stage)
		if frac < lastFrac {
			t.Errorf("progress went backwards: %v after %v", frac, lastFrac)
		}
		lastFrac = frac
	}

	res, err := Process(burst, params, progress, ops.NewContext(io.Discard, 4, 1024))
	if err != nil {
		t.Fatal(err)
	}
	if res.Image.Channels != 3 {
		t.Fatalf("channels=%d; want 3", res.Image.Channels)
	}
	for i, v := range res.Image.Pix {
		if math.Abs(float64(v)-0.5) > 1e-5 {
			t.Fatalf("pix[%d]=%v; want 0.5", i, v)
		}
	}
	if lastFrac != 1 {
		t.Errorf("final progress=%v; want 1", lastFrac)
	}
	seen := map[Stage]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, s := range []Stage{StageAlign, StageMerge, StageFinish} {
		if !seen[s] {
			t.Errorf("stage %s never reported", s)
		}
	}
}

func TestProcessSingleFrameFails(t *testing.T) {
	burst := makeBurst(1, 64, 64, 100)
	_, err := Process(burst, DefaultParams(), nil, ops.NewContext(io.Discard, 2, 1024))
	if !errors.Is(err, img.ErrInvalidBurst) {
		t.Errorf("err=%v; want ErrInvalidBurst", err)
	}
}

func TestWeightMap(t *testing.T) {
	burst := makeBurst(3, 128, 128, 300)
	res, err := Process(burst, DefaultParams(), nil, ops.NewContext(io.Discard, 2, 1024))
	if err != nil {
		t.Fatal(err)
	}
	wms := WeightMaps(res.Merged)
	if len(wms) != 2 {
		t.Fatalf("maps=%d; want one per alternate frame", len(wms))
	}
	for _, wm := range wms {
		if wm.Width != res.Merged.TilesX || wm.Height != res.Merged.TilesY {
			t.Fatalf("weight map %s; want %dx%d", wm.DimensionsToString(), res.Merged.TilesX, res.Merged.TilesY)
		}
		for i, v := range wm.Pix {
			if v != 1 {
				t.Errorf("frame %d weight[%d]=%v; want 1 for identical frames", wm.ID, i, v)
			}
		}
	}
}
