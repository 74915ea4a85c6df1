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

package stats

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"
)

// Basic statistics on a pixel array.
type Stats struct {
	Min  float32
	Max  float32
	Mean float32
}

func NewStats(data []float32) *Stats {
	s := &Stats{Min: float32(math.MaxFloat32), Max: float32(-math.MaxFloat32)}
	sum := float64(0)
	for _, d := range data {
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
		sum += float64(d)
	}
	if len(data) > 0 {
		s.Mean = float32(sum / float64(len(data)))
	}
	return s
}

func (s *Stats) String() string {
	return fmt.Sprintf("Min %.4g Max %.4g Mean %.4g", s.Min, s.Max, s.Mean)
}

// FastApproxNoise estimates the noise level of a mosaic plane as the
// median absolute difference between samples two columns apart (same
// CFA channel on a Bayer layout), computed on a random subsample so
// large frames stay cheap. Deterministic inputs do not guarantee a
// deterministic estimate; callers use it for reporting and sanity
// checks only, never inside the merge math.
func FastApproxNoise(data []float32, width int32, numSamples int) float32 {
	if len(data) < 3 || numSamples <= 0 {
		return 0
	}
	max := uint32(len(data) - 2)
	samples := make([]float32, numSamples)
	rng := fastrand.RNG{}
	for i := range samples {
		index := rng.Uint32n(max)
		d := data[index] - data[index+2]
		if d < 0 {
			d = -d
		}
		samples[i] = d
	}
	// 1.4826 converts MAD to sigma for normal noise; the pair
	// difference doubles the variance, hence the sqrt(2) divisor.
	return QSelectMedianFloat32(samples) * 1.4826 / float32(math.Sqrt2)
}
