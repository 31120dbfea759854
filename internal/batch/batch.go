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

// Package batch orchestrates estimation and correction runs over an
// acquisition directory. Channels and frames are processed concurrently
// under a worker limit, and a failure in one unit of work never takes down
// the others
package batch

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/correct"
	"github.com/mlnoga/flatfield/internal/frame"
	"github.com/mlnoga/flatfield/internal/profile"
	"github.com/mlnoga/flatfield/internal/scan"
	"github.com/pbnjay/memory"
)

// The overall result of a run. The numeric value doubles as the process exit code
type Outcome int

const (
	Completed           Outcome = iota // all units succeeded
	Aborted                            // canceled, or nothing could be processed
	CompletedWithErrors                // some units failed, others succeeded
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case CompletedWithErrors:
		return "completed with errors"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) ExitCode() int { return int(o) }

// A progress notification for one unit of work, a channel key during
// estimation or a file path during correction
type Event struct {
	Unit   string
	Status string // "start", "done" or "failed"
	Done   int    // units finished so far, including this one for terminal events
	Total  int
	Err    error // set for "failed" events
}

// The aggregate result of a run
type Summary struct {
	Outcome Outcome
	Units   int
	Failed  int
	Errors  []error
}

func (s *Summary) record(err error) {
	if err != nil {
		s.Failed++
		s.Errors = append(s.Errors, err)
	}
}

func (s *Summary) finalize(ctx context.Context) {
	switch {
	case ctx.Err() != nil, s.Units == 0, s.Failed == s.Units:
		s.Outcome = Aborted
	case s.Failed > 0:
		s.Outcome = CompletedWithErrors
	default:
		s.Outcome = Completed
	}
}

// A Session holds everything one estimation or correction run needs.
// Sessions carry no global state and are safe to run side by side
type Session struct {
	Estimator     *basic.Estimator
	Store         *profile.Store
	Parser        scan.ChannelParser
	Workers       int         // concurrent units of work; 0 = NumCPU
	MemoryMB      int         // working memory budget; 0 = half of physical RAM
	MaxPerChannel int         // frame cap per channel; 0 = estimator default
	Log           io.Writer   // may be nil
	Events        func(Event) // may be nil

	mutex sync.Mutex
	done  int
}

func (s *Session) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.NumCPU()
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.Log != nil {
		fmt.Fprintf(s.Log, format, args...)
	}
}

func (s *Session) emit(ev Event) {
	if s.Events != nil {
		s.Events(ev)
	}
}

func (s *Session) start(unit string, total int) {
	s.mutex.Lock()
	done := s.done
	s.mutex.Unlock()
	s.emit(Event{Unit: unit, Status: "start", Done: done, Total: total})
}

func (s *Session) finish(unit string, total int, err error) {
	s.mutex.Lock()
	s.done++
	done := s.done
	s.mutex.Unlock()
	if err != nil {
		s.emit(Event{Unit: unit, Status: "failed", Done: done, Total: total, Err: err})
	} else {
		s.emit(Event{Unit: unit, Status: "done", Done: done, Total: total})
	}
}

// The per-channel frame cap: the smaller of the configured cap and what the
// memory budget allows given the size of one frame. Estimation holds the
// observed stack plus an equally sized sparse residual stack in memory
func (s *Session) frameCap(bytesPerFrame int) int {
	cap := s.Estimator.Config.MaxImages
	if s.MaxPerChannel > 0 && s.MaxPerChannel < cap {
		cap = s.MaxPerChannel
	}
	budget := uint64(s.MemoryMB) << 20
	if budget == 0 {
		budget = memory.TotalMemory() / 2
	}
	if bytesPerFrame > 0 {
		byMemory := int(budget / uint64(2*bytesPerFrame))
		if byMemory < s.Estimator.Config.MinImages {
			byMemory = s.Estimator.Config.MinImages // below this, fail in the estimator rather than silently degrade
		}
		if byMemory < cap {
			s.logf("memory budget %d MB limits batches to %d frames\n", budget>>20, byMemory)
			cap = byMemory
		}
	}
	return cap
}

// Compute scans the acquisition root, estimates a flat-field profile per
// channel concurrently, and saves the profiles to the session's store.
// Failing channels are reported in the summary and do not affect the rest
func (s *Session) Compute(ctx context.Context, root string) (*Summary, error) {
	groups, err := scan.Scan(root, s.Parser, s.Store.Root)
	if err != nil {
		return &Summary{Outcome: Aborted}, err
	}
	s.logf("found %d channels under %s\n", len(groups), root)
	s.mutex.Lock()
	s.done = 0
	s.mutex.Unlock()

	summary := &Summary{Units: len(groups)}
	errs := make([]error, len(groups))
	limiter := make(chan bool, s.workers())
	for i, g := range groups {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		limiter <- true
		go func(i int, g scan.Group) {
			defer func() { <-limiter }()
			s.start(g.Channel, len(groups))
			err := s.computeChannel(ctx, g)
			errs[i] = err
			s.finish(g.Channel, len(groups), err)
		}(i, g)
	}
	for i := 0; i < cap(limiter); i++ {
		limiter <- true
	}

	for _, err := range errs {
		summary.record(err)
	}
	summary.finalize(ctx)
	s.logf("estimation %s: %d channels, %d failed\n", summary.Outcome, summary.Units, summary.Failed)
	return summary, nil
}

func (s *Session) computeChannel(ctx context.Context, g scan.Group) error {
	first, err := frame.ReadFile(g.Files[0], 0)
	if err != nil {
		return fmt.Errorf("channel %s: %w", g.Channel, err)
	}
	files := scan.Subsample(g.Files, s.frameCap(int(first.Pixels)*8))
	s.logf("%s: estimating from %d of %d frames\n", g.Channel, len(files), len(g.Files))

	frames := make([]*frame.Image, len(files))
	frames[0] = first
	for i, fileName := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fileName == g.Files[0] {
			frames[i] = first
			continue
		}
		f, err := frame.ReadFile(fileName, i)
		if err != nil {
			return fmt.Errorf("channel %s: %w", g.Channel, err)
		}
		frames[i] = f
	}

	prof, err := s.Estimator.EstimateChannel(g.Channel, frames)
	if err != nil {
		return err
	}
	return s.Store.Save(prof)
}

// Apply scans the acquisition root and corrects every frame with its
// channel's stored profile, mirroring relative paths under outRoot. An empty
// outRoot writes into a sibling directory named after the root with the given
// suffix; the acquisition tree itself is never written into.
// Frames are corrected concurrently; failing frames are reported in the
// summary and do not affect the rest
func (s *Session) Apply(ctx context.Context, root, outRoot, suffix string) (*Summary, error) {
	groups, err := scan.Scan(root, s.Parser, s.Store.Root)
	if err != nil {
		return &Summary{Outcome: Aborted}, err
	}

	profiles := map[string]*basic.Profile{}
	total := 0
	for _, g := range groups {
		total += len(g.Files)
		prof, err := s.Store.Load(g.Channel)
		if err != nil {
			profiles[g.Channel] = nil // recorded as a failure per frame below
			continue
		}
		profiles[g.Channel] = prof
	}
	s.logf("correcting %d frames across %d channels under %s\n", total, len(groups), root)
	s.mutex.Lock()
	s.done = 0
	s.mutex.Unlock()

	summary := &Summary{Units: total}
	var errsMutex sync.Mutex
	var errs []error
	limiter := make(chan bool, s.workers())
	for _, g := range groups {
		prof := profiles[g.Channel]
		for _, fileName := range g.Files {
			if ctx.Err() != nil {
				errsMutex.Lock()
				errs = append(errs, ctx.Err())
				errsMutex.Unlock()
				continue
			}
			limiter <- true
			go func(fileName string, prof *basic.Profile, channel string) {
				defer func() { <-limiter }()
				s.start(fileName, total)
				err := s.applyFile(root, outRoot, suffix, fileName, prof, channel)
				if err != nil {
					errsMutex.Lock()
					errs = append(errs, err)
					errsMutex.Unlock()
				}
				s.finish(fileName, total, err)
			}(fileName, prof, g.Channel)
		}
	}
	for i := 0; i < cap(limiter); i++ {
		limiter <- true
	}

	for _, err := range errs {
		summary.record(err)
	}
	summary.finalize(ctx)
	s.logf("correction %s: %d frames, %d failed\n", summary.Outcome, summary.Units, summary.Failed)
	return summary, nil
}

func (s *Session) applyFile(root, outRoot, suffix, fileName string, prof *basic.Profile, channel string) error {
	if prof == nil {
		return fmt.Errorf("%s: %w for channel %s", fileName, profile.ErrNotFound, channel)
	}
	outPath, err := correct.OutputPath(root, outRoot, fileName, suffix)
	if err != nil {
		return err
	}
	return correct.CorrectFile(fileName, outPath, prof)
}
