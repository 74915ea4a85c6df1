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

// Package pipeline runs the complete burst processing chain: align
// every alternate frame onto the reference, merge the burst into one
// low-noise mosaic, then finish it into a displayable RGB image.
package pipeline

import (
	"fmt"

	"burstlight/internal/align"
	"burstlight/internal/finish"
	"burstlight/internal/img"
	"burstlight/internal/merge"
	"burstlight/internal/ops"
	"burstlight/internal/stats"
)

// Params bundles the tunables of all three stages.
type Params struct {
	TileSize      int32   `json:"tileSize"`
	Levels        int32   `json:"levels"`
	SearchRadius  int32   `json:"searchRadius"`
	NoiseFraction float32 `json:"noiseFraction"`
	MergeDecay    float32 `json:"mergeDecay"`
	Compression   float32 `json:"compression"`
	Gain          float32 `json:"gain"`
	Contrast      float32 `json:"contrast"`
}

// DefaultParams mirrors the stage defaults.
func DefaultParams() Params {
	a, m := align.DefaultConfig(), merge.DefaultConfig()
	return Params{
		TileSize:      a.TileSize,
		Levels:        a.Levels,
		SearchRadius:  a.SearchRadius,
		NoiseFraction: m.NoiseFraction,
		MergeDecay:    m.Decay,
		Compression:   3.8,
		Gain:          1.1,
		Contrast:      1.0,
	}
}

// Stage identifies a pipeline phase in progress reports.
type Stage string

const (
	StageLoad   Stage = "load"
	StageAlign  Stage = "align"
	StageMerge  Stage = "merge"
	StageFinish Stage = "finish"
)

// A ProgressFunc receives stage boundary events. frac is the completed
// fraction of the whole pipeline, in [0, 1]. May be nil.
type ProgressFunc func(stage Stage, frac float32)

// A Result holds the finished image plus the merge diagnostics.
type Result struct {
	Image   *img.Image
	Merged  *merge.Result
	NoiseDN float32 // sampled noise estimate of the reference, in DN
}

// Process runs the full chain on a validated burst. burst[0] is the
// reference frame and carries the metadata used throughout.
func Process(burst img.Burst, params Params, progress ProgressFunc, c *ops.Context) (*Result, error) {
	if err := burst.Validate(); err != nil {
		return nil, err
	}
	ref := burst[0]
	noise := stats.FastApproxNoise(ref.Pix, ref.Width, 16384)
	if c.Log != nil {
		fmt.Fprintf(c.Log, "Processing burst of %d frames %s, reference noise ~%.2f DN\n",
			len(burst), ref.DimensionsToString(), noise)
	}

	report := func(stage Stage, frac float32) {
		if progress != nil {
			progress(stage, frac)
		}
	}
	report(StageLoad, 0.05)

	alignCfg := align.Config{
		TileSize:     params.TileSize,
		Levels:       params.Levels,
		SearchRadius: params.SearchRadius,
		MaxThreads:   c.MaxThreads,
	}
	fields := make([]*align.OffsetField, len(burst)-1)
	for i, alt := range burst[1:] {
		field, err := align.Align(ref, alt, alignCfg, c.Log)
		if err != nil {
			return nil, err
		}
		fields[i] = field
		report(StageAlign, 0.05+float32(i+1)/float32(len(burst)-1)*0.35)
	}

	mergeCfg := merge.Config{
		NoiseFraction: params.NoiseFraction,
		Decay:         params.MergeDecay,
		MaxThreads:    c.MaxThreads,
	}
	merged, err := merge.Merge(burst, fields, mergeCfg, c.Log)
	if err != nil {
		return nil, err
	}
	report(StageMerge, 0.7)

	outs, err := finish.NewOpFinish(params.Compression, params.Gain, params.Contrast).
		Apply([]ops.Promise{ops.NewConstPromise(merged.Mosaic)}, c)
	if err != nil {
		return nil, err
	}
	finished, err := outs[0]()
	if err != nil {
		return nil, err
	}
	report(StageFinish, 1)

	return &Result{Image: finished, Merged: merged, NoiseDN: noise}, nil
}

// WeightMaps renders the per-tile robustness weights of the merge as
// one single-channel image in [0, 1] per alternate frame, a diagnostic
// of where each frame actually contributed. Image IDs count the
// alternate frames from 1.
func WeightMaps(merged *merge.Result) []*img.Image {
	outs := make([]*img.Image, len(merged.Weights))
	for f := range merged.Weights {
		out := img.New(merged.TilesX, merged.TilesY, 1)
		out.ID = f + 1
		copy(out.Pix, merged.Weights[f])
		outs[f] = out
	}
	return outs
}
