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

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/batch"
	"github.com/mlnoga/flatfield/internal/conf"
	"github.com/mlnoga/flatfield/internal/profile"
	"github.com/mlnoga/flatfield/internal/rest"
	"github.com/mlnoga/flatfield/internal/scan"
	"github.com/pbnjay/memory"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var config   = flag.String("config", "", "load settings from YAML `file`; flags override file values")
var profiles = flag.String("profiles", "", "profile store `directory`; blank uses flatfields under the first acquisition directory")
var out      = flag.String("out", "", "write corrected trees under `directory`; blank writes to a sibling of each acquisition directory")
var suffix   = flag.String("suffix", "_corrected", "name the default corrected sibling directory `<dir><suffix>`; ignored when -out is set")
var logF     = flag.String("log", "%auto", "save log output to `file`. %auto logs to flatfield.log in the profile store")

var maxIters      = flag.Int("maxIters", 50, "iteration cap for estimation; hitting it keeps the best estimate")
var tol           = flag.Float64("tol", 1e-4, "stop estimating once the relative change per iteration drops below this")
var smoothSigma   = flag.Float64("smoothSigma", 0.125, "gaussian smoothing sigma as a fraction of image width")
var sparseLambda  = flag.Float64("sparseLambda", 0.1, "soft threshold for outlier suppression, in normalized intensity units")
var darkfield     = flag.Bool("darkfield", false, "estimate an additive dark-offset map as well")
var minImages     = flag.Int("minImages", 8, "fail channels with fewer frames than this")
var maxPerChannel = flag.Int("maxPerChannel", 48, "estimate from at most this many frames per channel")

var workers  = flag.Int("workers", 0, "concurrent channels or frames to process, 0=all cores")
var memoryMB = flag.Int("memory", 0, fmt.Sprintf("MiB of working memory for estimation, 0=half of physical (%d MiB)", totalMiBs))

var port   = flag.String("port", ":8080", "listen `address` for the serve command")
var chroot = flag.String("chroot", "", "serve command: change filesystem root to `directory` (requires root)")
var setuid = flag.Int("setuid", -1, "serve command: switch to this user id after chroot, -1=don't")

func main() {
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Flatfield Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (compute|apply|serve|legal|version) dir [dir2 ...]

Commands:
  compute Estimate one flat-field profile per channel from the frames under dir
  apply   Correct all frames under the given dirs with the stored profiles
  serve   Accept compute and apply jobs via REST
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	cfg, err := conf.Load(*config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err.Error())
		os.Exit(1)
	}
	overrideFromFlags(cfg)

	if *profiles == "" {
		*profiles = defaultProfiles(args[0], args[1:])
	}

	// Initialize logging to file in addition to stdout, if selected
	if *logF == "%auto" {
		switch args[0] {
		case "compute", "apply":
			if *profiles != "" {
				*logF = filepath.Join(*profiles, "flatfield.log")
			} else {
				*logF = ""
			}
		default:
			*logF = ""
		}
	}
	logWriter, logClose, err := newLogWriter(*logF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logF, err.Error())
		os.Exit(1)
	}
	defer logClose()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	exitCode := 0
	switch args[0] {
	case "compute":
		exitCode = cmdCompute(cfg, logWriter, args[1:])

	case "apply":
		exitCode = cmdApply(cfg, logWriter, args[1:])

	case "serve":
		rest.MakeSandbox(*chroot, *setuid)
		rest.Serve(*port)

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		exitCode = 1
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Now().Sub(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
			os.Exit(1)
		}
	}
	logClose()
	os.Exit(exitCode)
}

// The profile store defaults to a subdirectory of the first acquisition directory
func defaultProfiles(cmd string, dirs []string) string {
	if (cmd == "compute" || cmd == "apply") && len(dirs) > 0 {
		return filepath.Join(dirs[0], "flatfields")
	}
	return ""
}

// Flags that were set explicitly on the command line win over the config file
func overrideFromFlags(cfg *conf.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "maxIters":
			cfg.Estimation.MaxIterations = *maxIters
		case "tol":
			cfg.Estimation.Tolerance = *tol
		case "smoothSigma":
			cfg.Estimation.SmoothSigma = *smoothSigma
		case "sparseLambda":
			cfg.Estimation.SparseLambda = *sparseLambda
		case "darkfield":
			cfg.Estimation.Darkfield = *darkfield
		case "minImages":
			cfg.Estimation.MinImages = *minImages
		case "maxPerChannel":
			cfg.Estimation.MaxImages = *maxPerChannel
		case "workers":
			cfg.Run.Workers = *workers
		case "memory":
			cfg.Run.MemoryMB = *memoryMB
		case "suffix":
			cfg.Run.Suffix = *suffix
		}
	})
}

func newSession(cfg *conf.Config, logWriter io.Writer) *batch.Session {
	s := &batch.Session{
		Estimator: basic.NewEstimator(cfg.Estimation, logWriter),
		Store:     profile.NewStore(*profiles),
		Parser:    scan.TokenParser{},
		Workers:   cfg.Run.Workers,
		MemoryMB:  cfg.Run.MemoryMB,
		Log:       logWriter,
	}
	s.Events = func(ev batch.Event) {
		switch ev.Status {
		case "done":
			fmt.Fprintf(logWriter, "[%d/%d] %s\n", ev.Done, ev.Total, ev.Unit)
		case "failed":
			fmt.Fprintf(logWriter, "[%d/%d] %s: %s\n", ev.Done, ev.Total, ev.Unit, ev.Err.Error())
		}
	}
	return s
}

// Returns a context that cancels on interrupt, so a second Ctrl-C kills hard
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func cmdCompute(cfg *conf.Config, logWriter io.Writer, args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(logWriter, "compute needs exactly one acquisition directory argument\n")
		return 1
	}
	ctx, stop := runContext()
	defer stop()

	s := newSession(cfg, logWriter)
	summary, err := s.Compute(ctx, args[0])
	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
	}
	for _, e := range summary.Errors {
		fmt.Fprintf(logWriter, "  %s\n", e.Error())
	}
	// record the effective settings next to the profiles they produced
	if summary.Outcome != batch.Aborted {
		if err := conf.Save(cfg, filepath.Join(*profiles, "flatfield.yaml")); err != nil {
			fmt.Fprintf(logWriter, "Could not save settings: %s\n", err.Error())
		}
	}
	return summary.Outcome.ExitCode()
}

func cmdApply(cfg *conf.Config, logWriter io.Writer, args []string) int {
	if len(args) < 1 {
		fmt.Fprintf(logWriter, "apply needs at least one acquisition directory argument\n")
		return 1
	}
	if cfg.Run.Suffix == "" && *out == "" {
		fmt.Fprintf(logWriter, "need -out or a non-empty -suffix to avoid overwriting the originals\n")
		return 1
	}
	ctx, stop := runContext()
	defer stop()

	s := newSession(cfg, logWriter)
	failed := false
	for _, root := range args {
		outRoot := *out
		if outRoot != "" && len(args) > 1 {
			// one -out directory for several acquisitions: keep their trees apart
			outRoot = filepath.Join(outRoot, filepath.Base(filepath.Clean(root)))
		}
		summary, err := s.Apply(ctx, root, outRoot, cfg.Run.Suffix)
		if err != nil {
			fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		}
		for _, e := range summary.Errors {
			fmt.Fprintf(logWriter, "  %s\n", e.Error())
		}
		if ctx.Err() != nil {
			return batch.Aborted.ExitCode()
		}
		if summary.Outcome != batch.Completed {
			failed = true
		}
	}
	if failed {
		return batch.CompletedWithErrors.ExitCode()
	}
	return batch.Completed.ExitCode()
}

// Tees log output to stdout and optionally to a file
func newLogWriter(fileName string) (w io.Writer, close func(), err error) {
	if fileName == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, nil, err
	}
	buf := bufio.NewWriter(f)
	closed := false
	return io.MultiWriter(os.Stdout, buf), func() {
		if closed {
			return
		}
		closed = true
		buf.Flush()
		f.Close()
	}, nil
}
