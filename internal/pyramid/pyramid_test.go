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

package pyramid

import (
	"math"
	"testing"

	"burstlight/internal/img"
)

func TestGrayFromBayer(t *testing.T) {
	f := img.New(4, 4, 1)
	// each 2x2 cell holds 1,2,3,4 -> gray 2.5
	for y := int32(0); y < 4; y++ {
		for x := int32(0); x < 4; x++ {
			f.Pix[y*4+x] = float32((y&1)*2 + (x & 1) + 1)
		}
	}
	g := GrayFromBayer(f)
	if g.Width != 2 || g.Height != 2 {
		t.Fatalf("dims=%dx%d; want 2x2", g.Width, g.Height)
	}
	for i, v := range g.Pix {
		if v != 2.5 {
			t.Errorf("pix[%d]=%v; want 2.5", i, v)
		}
	}
}

func TestDownsampleBoxExact(t *testing.T) {
	p := NewPlane(4, 2)
	for i := range p.Pix {
		p.Pix[i] = float32(i)
	}
	d := DownsampleBox(p, 2)
	if d.Width != 2 || d.Height != 1 {
		t.Fatalf("dims=%dx%d; want 2x1", d.Width, d.Height)
	}
	// cells (0,1,4,5) and (2,3,6,7)
	if want := float32(2.5); d.Pix[0] != want {
		t.Errorf("pix[0]=%v; want %v", d.Pix[0], want)
	}
	if want := float32(4.5); d.Pix[1] != want {
		t.Errorf("pix[1]=%v; want %v", d.Pix[1], want)
	}
}

func TestDownsampleBoxOddEdge(t *testing.T) {
	p := NewPlane(3, 3)
	for i := range p.Pix {
		p.Pix[i] = 1
	}
	d := DownsampleBox(p, 2)
	if d.Width != 2 || d.Height != 2 {
		t.Fatalf("dims=%dx%d; want 2x2", d.Width, d.Height)
	}
	for i, v := range d.Pix {
		if math.Abs(float64(v)-1) > 1e-6 {
			t.Errorf("pix[%d]=%v; want 1", i, v)
		}
	}
}

func TestBuildOrderAndClamp(t *testing.T) {
	p := NewPlane(256, 128)
	ps := Build(p, 4, 2)
	if len(ps) != 3 {
		t.Fatalf("levels=%d; want 3", len(ps))
	}
	if ps[len(ps)-1].Width != 256 || ps[len(ps)-1].Height != 128 {
		t.Errorf("finest=%dx%d; want 256x128", ps[len(ps)-1].Width, ps[len(ps)-1].Height)
	}
	for i := 1; i < len(ps); i++ {
		if ps[i].Width <= ps[i-1].Width {
			t.Errorf("level %d width %d not finer than level %d width %d",
				i, ps[i].Width, i-1, ps[i-1].Width)
		}
	}
	if ps[0].Width < 32 || ps[0].Height < 32 {
		t.Errorf("coarsest=%dx%d; want >=32 per side", ps[0].Width, ps[0].Height)
	}
}

func TestBuildTinyPlane(t *testing.T) {
	p := NewPlane(16, 16)
	ps := Build(p, 4, 2)
	if len(ps) != 1 {
		t.Fatalf("levels=%d; want 1", len(ps))
	}
}
