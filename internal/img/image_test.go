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
	"testing"

	"burstlight/internal/camera"
)

func newTestFrame(id int, w, h int32, meta *camera.Metadata) *Image {
	f := New(w, h, 1)
	f.ID, f.Meta = id, meta
	return f
}

func TestBurstValidate(t *testing.T) {
	meta := camera.NewMetadata(camera.RGGB)

	good := Burst{newTestFrame(0, 64, 48, meta), newTestFrame(1, 64, 48, meta)}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate()=%v; want nil", err)
	}

	single := Burst{newTestFrame(0, 64, 48, meta)}
	if err := single.Validate(); !errors.Is(err, ErrInvalidBurst) {
		t.Errorf("1 frame: err=%v; want ErrInvalidBurst", err)
	}

	mismatched := Burst{newTestFrame(0, 64, 48, meta), newTestFrame(1, 32, 48, meta)}
	if err := mismatched.Validate(); !errors.Is(err, ErrInvalidBurst) {
		t.Errorf("mismatched dims: err=%v; want ErrInvalidBurst", err)
	}

	otherCFA := camera.NewMetadata(camera.BGGR)
	inconsistent := Burst{newTestFrame(0, 64, 48, meta), newTestFrame(1, 64, 48, otherCFA)}
	if err := inconsistent.Validate(); !errors.Is(err, ErrInvalidBurst) {
		t.Errorf("inconsistent CFA: err=%v; want ErrInvalidBurst", err)
	}

	noMeta := Burst{newTestFrame(0, 64, 48, nil), newTestFrame(1, 64, 48, nil)}
	if err := noMeta.Validate(); !errors.Is(err, ErrInvalidBurst) {
		t.Errorf("missing metadata: err=%v; want ErrInvalidBurst", err)
	}
}

func TestPlaneLayout(t *testing.T) {
	f := New(4, 2, 3)
	for i := range f.Pix {
		f.Pix[i] = float32(i)
	}
	if got := f.PlaneSize(); got != 8 {
		t.Fatalf("PlaneSize()=%d; want 8", got)
	}
	if got := f.Plane(1)[0]; got != 8 {
		t.Errorf("Plane(1)[0]=%g; want 8", got)
	}
	if got := f.At(3, 1); got != 7 {
		t.Errorf("At(3,1)=%g; want 7", got)
	}
}

func TestAtClamped(t *testing.T) {
	f := New(3, 3, 1)
	copy(f.Pix, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8})
	tcs := []struct {
		x, y int32
		want float32
	}{
		{-5, 0, 0}, {0, -1, 0}, {5, 1, 5}, {1, 7, 7}, {9, 9, 8}, {1, 1, 4},
	}
	for _, tc := range tcs {
		if got := f.AtClamped(tc.x, tc.y); got != tc.want {
			t.Errorf("AtClamped(%d,%d)=%g; want %g", tc.x, tc.y, got, tc.want)
		}
	}
}
