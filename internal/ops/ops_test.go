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
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"burstlight/internal/camera"
	"burstlight/internal/img"
)

func TestMaterializeAllJoinsErrors(t *testing.T) {
	wantErr := errors.New("boom")
	ins := []Promise{
		NewConstPromise(img.New(2, 2, 1)),
		func() (*img.Image, error) { return nil, wantErr },
	}
	outs, err := MaterializeAll(ins, NewContext(io.Discard, 2, 1024))
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v; want wrapped boom", err)
	}
	if outs[0] == nil || outs[1] != nil {
		t.Errorf("outs=%v; want first materialized, second nil", outs)
	}
}

func TestUnmarshalOperatorDispatch(t *testing.T) {
	op, err := UnmarshalOperator([]byte(`{"type":"save","filePattern":"out_%d.png","quality":90}`))
	if err != nil {
		t.Fatal(err)
	}
	save, ok := op.(*OpSave)
	if !ok {
		t.Fatalf("got %T; want *OpSave", op)
	}
	if save.FilePattern != "out_%d.png" || save.Quality != 90 {
		t.Errorf("save=%+v; want deserialized fields", save)
	}
	if _, err := UnmarshalOperator([]byte(`{"type":"warp"}`)); err == nil {
		t.Error("want error for unknown operator type")
	}
}

func TestOpSequenceUnmarshal(t *testing.T) {
	data := []byte(`{"type":"seq","steps":[{"type":"save","filePattern":"a.png"},{"type":"save","filePattern":"b.png"}]}`)
	op, err := UnmarshalOperator(data)
	if err != nil {
		t.Fatal(err)
	}
	seq, ok := op.(*OpSequence)
	if !ok {
		t.Fatalf("got %T; want *OpSequence", op)
	}
	if len(seq.Steps) != 2 {
		t.Fatalf("steps=%d; want 2", len(seq.Steps))
	}
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "burst.yaml")
	yml := "cfa: grbg\nblackLevel: 64\nwhiteLevel: 1023\nwhiteBalance: [2.1, 1.0, 1.0, 1.6]\n"
	if err := os.WriteFile(fileName, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	meta, err := LoadMetadata(fileName)
	if err != nil {
		t.Fatal(err)
	}
	if meta.CFA != camera.GRBG || meta.BlackLevel != 64 || meta.WhiteLevel != 1023 {
		t.Errorf("meta=%+v; want GRBG [64, 1023]", meta)
	}
	if meta.WhiteBalance != [4]float32{2.1, 1.0, 1.0, 1.6} {
		t.Errorf("whiteBalance=%v", meta.WhiteBalance)
	}
	if meta.ColorMatrix != camera.IdentityColorMatrix() {
		t.Errorf("colorMatrix=%v; want identity default", meta.ColorMatrix)
	}
}

func TestLoadMetadataInvalid(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "burst.yaml")
	yml := "cfa: rggb\nblackLevel: 100\nwhiteLevel: 100\n"
	if err := os.WriteFile(fileName, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMetadata(fileName); !errors.Is(err, camera.ErrNumericDegenerate) {
		t.Errorf("err=%v; want ErrNumericDegenerate", err)
	}
}

func TestSaveLoadTIFFRoundtrip(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "frame.tiff")
	f := img.New(8, 6, 1)
	for i := range f.Pix {
		f.Pix[i] = float32(i) / float32(len(f.Pix))
	}
	if err := saveImage(f, fileName, 95); err != nil {
		t.Fatal(err)
	}
	g, err := loadTIFF(0, fileName, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !f.EqualDims(g) {
		t.Fatalf("dims %s vs %s", f.DimensionsToString(), g.DimensionsToString())
	}
	for i := range f.Pix {
		got := g.Pix[i] / 65535
		d := got - f.Pix[i]
		if d < 0 {
			d = -d
		}
		if d > 1.0/65535 {
			t.Fatalf("pix[%d]=%v; want %v within one DN", i, got, f.Pix[i])
		}
	}
}

func TestOpLoadBurstFrameNumberOrder(t *testing.T) {
	dir := t.TempDir()
	yml := "cfa: rggb\nblackLevel: 64\nwhiteLevel: 1023\n"
	if err := os.WriteFile(filepath.Join(dir, "burst.yaml"), []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"frame10.tiff", "frame1.tiff", "frame2.tiff"} {
		f := img.New(4, 4, 1)
		if err := saveImage(f, filepath.Join(dir, name), 95); err != nil {
			t.Fatal(err)
		}
	}
	op := NewOpLoadBurst(filepath.Join(dir, "frame*.tiff"))
	outs, err := op.Apply(nil, NewContext(io.Discard, 1, 1024))
	if err != nil {
		t.Fatal(err)
	}
	frames, err := MaterializeAll(outs, NewContext(io.Discard, 1, 1024))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"frame1.tiff", "frame2.tiff", "frame10.tiff"}
	for i, f := range frames {
		if filepath.Base(f.FileName) != want[i] {
			t.Errorf("frame %d is %s; want %s", i, filepath.Base(f.FileName), want[i])
		}
		if f.ID != i {
			t.Errorf("frame %d has ID %d", i, f.ID)
		}
	}
}

func TestOpLoadBurstTooFewFrames(t *testing.T) {
	dir := t.TempDir()
	op := NewOpLoadBurst(filepath.Join(dir, "*.tiff"))
	if _, err := op.Apply(nil, NewContext(io.Discard, 1, 1024)); !errors.Is(err, img.ErrInvalidBurst) {
		t.Errorf("err=%v; want ErrInvalidBurst", err)
	}
}
