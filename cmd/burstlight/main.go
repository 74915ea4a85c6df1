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

package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"burstlight/internal/img"
	"burstlight/internal/ops"
	"burstlight/internal/pipeline"
	"burstlight/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out     = flag.String("out", "out.jpg", "save finished image to `file` (.jpg, .png or .tiff)")
var mosaic  = flag.String("mosaic", "", "save the merged raw mosaic as 16-bit TIFF to `file` for inspection")
var weights = flag.String("weights", "", "save per-frame merge weight maps with given filename pattern, e.g. `weights%d.tiff`")
var addr    = flag.String("addr", ":8080", "listen address for the serve command")
var chroot  = flag.String("chroot", "", "serve: confine the process to this directory (requires root)")
var setuid  = flag.Int64("setuid", -1, "serve: drop to this user id after startup, -1=keep")

var tile   = flag.Int64("tile", 16, "alignment tile size in gray pixels")
var levels = flag.Int64("levels", 4, "alignment pyramid levels")
var radius = flag.Int64("radius", 4, "alignment search radius at the finest level")

var noise = flag.Float64("noise", 0.03, "merge noise floor as a fraction of the camera range")
var decay = flag.Float64("decay", 1.0, "merge weight decay above the noise floor")

var compression = flag.Float64("compression", 3.8, "tone mapping dynamic range compression, 0=linear")
var gain        = flag.Float64("gain", 1.1, "tone mapping exposure gain")
var contrast    = flag.Float64("contrast", 1.0, "tone mapping contrast, 1=no op")

var threads = flag.Int64("threads", 0, "parallel worker limit, 0=physical cores")

func main() {
	logWriter := os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Burstlight Copyright (c) 2024 The burstlight authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (process|serve|legal|version|help) (burst/*.tiff)

Commands:
  process Align, merge and finish the raw burst matching the file pattern
  serve   Start the HTTP processing server
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "process":
		if len(args) < 2 {
			fmt.Fprintf(logWriter, "process needs a file pattern, e.g. 'burst/*.tiff'\n")
			os.Exit(-1)
		}
		err = cmdProcess(args[1], logWriter)

	case "serve":
		if err = rest.MakeSandbox(*chroot, int(*setuid)); err == nil {
			err = rest.Serve(*addr)
		}

	case "legal":
		fmt.Fprintf(logWriter, "%s\n", legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		os.Exit(-1)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}
}

func cmdProcess(pattern string, logWriter *os.File) error {
	c := ops.NewContext(logWriter, int32(*threads), 0)
	promises, err := ops.NewOpLoadBurst(pattern).Apply(nil, c)
	if err != nil {
		return err
	}
	frames, err := ops.MaterializeAll(promises, c)
	if err != nil {
		return err
	}

	params := pipeline.Params{
		TileSize:      int32(*tile),
		Levels:        int32(*levels),
		SearchRadius:  int32(*radius),
		NoiseFraction: float32(*noise),
		MergeDecay:    float32(*decay),
		Compression:   float32(*compression),
		Gain:          float32(*gain),
		Contrast:      float32(*contrast),
	}
	progress := func(stage pipeline.Stage, frac float32) {
		fmt.Fprintf(logWriter, "%s: %.0f%%\n", stage, frac*100)
	}
	res, err := pipeline.Process(img.Burst(frames), params, progress, c)
	if err != nil {
		return err
	}

	outs := []ops.Promise{ops.NewConstPromise(res.Image)}
	if outs, err = ops.NewOpSave(*out, 95).Apply(outs, c); err != nil {
		return err
	}
	if _, err = ops.MaterializeAll(outs, c); err != nil {
		return err
	}

	if *mosaic != "" {
		// mosaic DNs rescaled to [0, 1] for the 16-bit encoder
		m := img.NewFrom(res.Merged.Mosaic)
		scale := 1 / float32(m.Meta.WhiteLevel)
		for i, v := range res.Merged.Mosaic.Pix {
			m.Pix[i] = v * scale
		}
		mp := []ops.Promise{ops.NewConstPromise(m)}
		if mp, err = ops.NewOpSave(*mosaic, 95).Apply(mp, c); err != nil {
			return err
		}
		if _, err = ops.MaterializeAll(mp, c); err != nil {
			return err
		}
	}

	if *weights != "" {
		var wm []ops.Promise
		for _, m := range pipeline.WeightMaps(res.Merged) {
			wm = append(wm, ops.NewConstPromise(m))
		}
		if wm, err = ops.NewOpSave(*weights, 95).Apply(wm, c); err != nil {
			return err
		}
		if _, err = ops.MaterializeAll(wm, c); err != nil {
			return err
		}
	}
	return nil
}
