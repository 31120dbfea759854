// Copyright (C) 2020 Markus L. Noga
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

// Package rest exposes estimation and correction runs over HTTP for GUI
// frontends. Long-running requests stream plain-text progress as they go
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/batch"
	"github.com/mlnoga/flatfield/internal/profile"
	"github.com/mlnoga/flatfield/internal/scan"
)

func Serve(addr string) {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/compute", postCompute)
			v1.POST("/apply", postApply)
		}
	}
	r.Run(addr)
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

// Builds a session that streams its progress into the response body
func newSession(logWriter io.Writer, profiles string, estimation basic.Config, workers, memoryMB, maxPerChannel int) *batch.Session {
	s := &batch.Session{
		Estimator:     basic.NewEstimator(estimation, logWriter),
		Store:         profile.NewStore(profiles),
		Parser:        scan.TokenParser{},
		Workers:       workers,
		MemoryMB:      memoryMB,
		MaxPerChannel: maxPerChannel,
		Log:           logWriter,
	}
	s.Events = func(ev batch.Event) {
		switch ev.Status {
		case "done":
			fmt.Fprintf(logWriter, "[%d/%d] %s\n", ev.Done, ev.Total, ev.Unit)
		case "failed":
			fmt.Fprintf(logWriter, "[%d/%d] %s: %s\n", ev.Done, ev.Total, ev.Unit, ev.Err.Error())
		}
		if f, ok := logWriter.(http.Flusher); ok {
			f.Flush()
		}
	}
	return s
}

type postComputeArgs struct {
	Root          string       `json:"root"`
	Profiles      string       `json:"profiles"`
	Estimation    basic.Config `json:"estimation"`
	Workers       int          `json:"workers"`
	MemoryMB      int          `json:"memoryMB"`
	MaxPerChannel int          `json:"maxPerChannel"`
}

func postCompute(c *gin.Context) {
	logWriter := c.Writer
	var args postComputeArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Root == "" || args.Profiles == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "root and profiles are required"})
		return
	}

	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	s := newSession(logWriter, args.Profiles, args.Estimation, args.Workers, args.MemoryMB, args.MaxPerChannel)
	summary, err := s.Compute(c.Request.Context(), args.Root)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	fmt.Fprintf(logWriter, "result: %s, %d channels, %d failed\n", summary.Outcome, summary.Units, summary.Failed)
	logWriter.(http.Flusher).Flush()
}

type postApplyArgs struct {
	Root     string `json:"root"`
	Profiles string `json:"profiles"`
	Out      string `json:"out"`
	Suffix   string `json:"suffix"`
	Workers  int    `json:"workers"`
}

func postApply(c *gin.Context) {
	logWriter := c.Writer
	var args postApplyArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Root == "" || args.Profiles == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "root and profiles are required"})
		return
	}
	if args.Suffix == "" && args.Out == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "need an output directory or a suffix to avoid overwriting originals"})
		return
	}

	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	s := newSession(logWriter, args.Profiles, basic.DefaultConfig(), args.Workers, 0, 0)
	summary, err := s.Apply(c.Request.Context(), args.Root, args.Out, args.Suffix)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	fmt.Fprintf(logWriter, "result: %s, %d frames, %d failed\n", summary.Outcome, summary.Units, summary.Failed)
	logWriter.(http.Flusher).Flush()
}
