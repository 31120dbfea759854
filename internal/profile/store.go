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

// Package profile persists estimated flat-field profiles to disk and loads
// them back losslessly. Each channel gets its own directory under the store
// root, holding the shading and darkfield maps as 32-bit float FITS files,
// a human-readable preview PNG of the shading map, and estimation metadata:
//
//	<root>/<channel>/shading.fits
//	<root>/<channel>/darkfield.fits
//	<root>/<channel>/preview.png
//	<root>/<channel>/meta.yaml
//
// Writes go through a temporary file and an atomic rename, so an interrupted
// save never leaves a torn profile behind
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/frame"
	"gopkg.in/yaml.v3"
)

// Reported when a requested channel profile does not exist in the store
var ErrNotFound = errors.New("profile not found")

const (
	shadingFile   = "shading.fits"
	darkfieldFile = "darkfield.fits"
	previewFile   = "preview.png"
	metaFile      = "meta.yaml"
)

// Estimation metadata stored alongside the maps
type Meta struct {
	Channel    string    `yaml:"channel"`
	Iterations int       `yaml:"iterations"`
	Converged  bool      `yaml:"converged"`
	Baseline   []float64 `yaml:"baseline,omitempty"`
}

// A profile store rooted at a directory
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// The store directory for a channel key. Key characters that are unsafe in
// file names are replaced with underscores
func (s *Store) ChannelDir(channel string) string {
	return filepath.Join(s.Root, sanitize(channel))
}

func sanitize(channel string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, channel)
}

// Save persists a profile, overwriting any existing profile for the channel.
// The maps are written bit for bit; loading them back yields identical data
func (s *Store) Save(prof *basic.Profile) error {
	dir := s.ChannelDir(prof.Channel)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("profile store %s: %w", prof.Channel, err)
	}
	if err := atomicWriteFITS(filepath.Join(dir, shadingFile), prof.Shading); err != nil {
		return fmt.Errorf("profile store %s: %w", prof.Channel, err)
	}
	if err := atomicWriteFITS(filepath.Join(dir, darkfieldFile), prof.Darkfield); err != nil {
		return fmt.Errorf("profile store %s: %w", prof.Channel, err)
	}
	if err := s.writeMeta(dir, prof); err != nil {
		return fmt.Errorf("profile store %s: %w", prof.Channel, err)
	}
	// The preview is diagnostic only; a failure to render it is not fatal
	_ = prof.Shading.WritePreviewPNG(filepath.Join(dir, previewFile))
	return nil
}

func atomicWriteFITS(fileName string, f *frame.Image) error {
	tmp := fileName + ".tmp"
	if err := f.WriteFITS(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fileName)
}

func (s *Store) writeMeta(dir string, prof *basic.Profile) error {
	meta := Meta{
		Channel:    prof.Channel,
		Iterations: prof.Iterations,
		Converged:  prof.Converged,
		Baseline:   prof.Baseline,
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metaFile))
}

// Load reads back the profile for a channel. Fails with ErrNotFound if the
// channel has no stored profile
func (s *Store) Load(channel string) (*basic.Profile, error) {
	dir := s.ChannelDir(channel)
	if _, err := os.Stat(filepath.Join(dir, shadingFile)); err != nil {
		return nil, fmt.Errorf("%w for channel %s under %s", ErrNotFound, channel, s.Root)
	}

	shading := &frame.Image{}
	if err := shading.ReadFITS(filepath.Join(dir, shadingFile)); err != nil {
		return nil, fmt.Errorf("profile load %s: %w", channel, err)
	}
	shading.Channel = channel
	darkfield := &frame.Image{}
	if err := darkfield.ReadFITS(filepath.Join(dir, darkfieldFile)); err != nil {
		return nil, fmt.Errorf("profile load %s: %w", channel, err)
	}
	darkfield.Channel = channel

	prof := &basic.Profile{Channel: channel, Shading: shading, Darkfield: darkfield}
	if data, err := os.ReadFile(filepath.Join(dir, metaFile)); err == nil {
		var meta Meta
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("profile load %s: %w", channel, err)
		}
		prof.Iterations = meta.Iterations
		prof.Converged = meta.Converged
		prof.Baseline = meta.Baseline
		if meta.Channel != "" { // restore the unsanitized key
			prof.Channel = meta.Channel
			prof.Shading.Channel = meta.Channel
			prof.Darkfield.Channel = meta.Channel
		}
	}
	return prof, nil
}

// LoadAll reads every stored profile, sorted by channel key
func (s *Store) LoadAll() ([]*basic.Profile, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	profiles := make([]*basic.Profile, 0, len(names))
	for _, name := range names {
		prof, err := s.Load(name)
		if errors.Is(err, ErrNotFound) {
			continue // unrelated directory
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, prof)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNotFound, s.Root)
	}
	return profiles, nil
}
