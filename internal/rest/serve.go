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

// Package rest exposes burst processing over HTTP. Responses to
// processing requests stream the text log as it is written, so clients
// can follow long runs.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"burstlight/internal/img"
	"burstlight/internal/ops"
	"burstlight/internal/pipeline"
)

func Serve(addr string) error {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/process", postProcess)
		}
	}
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postProcessArgs struct {
	FilePattern string          `json:"filePattern"`
	Output      string          `json:"output"`
	Params      pipeline.Params `json:"params"`
}

func postProcess(c *gin.Context) {
	logWriter := c.Writer
	args := postProcessArgs{Params: pipeline.DefaultParams()}
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.FilePattern == "" || args.Output == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filePattern and output are required"})
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, 0, 0)
	promises, err := ops.NewOpLoadBurst(args.FilePattern).Apply(nil, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	frames, err := ops.MaterializeAll(promises, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}

	progress := func(stage pipeline.Stage, frac float32) {
		fmt.Fprintf(logWriter, "%s: %.0f%%\n", stage, frac*100)
		logWriter.(http.Flusher).Flush()
	}
	res, err := pipeline.Process(img.Burst(frames), args.Params, progress, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}

	saves, err := ops.NewOpSave(args.Output, 95).
		Apply([]ops.Promise{ops.NewConstPromise(res.Image)}, ctx)
	if err == nil {
		_, err = ops.MaterializeAll(saves, ctx)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}
