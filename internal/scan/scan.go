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

// Package scan discovers image files under an acquisition root and groups
// them into per-channel batches. Traversal is lexical and therefore
// deterministic across runs on an unchanged directory tree.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Reported when an acquisition root contains no image files at all
var ErrNoImagesFound = errors.New("no image files found")

// Reported when a filename cannot be parsed into a channel key
var ErrAmbiguousChannel = errors.New("cannot derive channel key")

// One channel's worth of image files, in deterministic traversal order
type Group struct {
	Channel string   // the channel key shared by all files in the group
	Files   []string // absolute or root-relative image paths
}

// A strategy for deriving a channel key from a filename stem
type ChannelParser interface {
	Parse(stem string) (channel string, err error)
}

// Default channel-key strategy: the last _-separated token of the stem
// that is numeric or one of R, G, B. Mirrors common acquisition naming like
// R0_3_0_Fluorescence_488_nm_Ex -> 488
type TokenParser struct{}

func (p TokenParser) Parse(stem string) (string, error) {
	parts := strings.Split(stem, "_")
	for i := len(parts) - 1; i >= 0; i-- {
		token := parts[i]
		if token == "" {
			continue
		}
		if isDigits(token) {
			return token, nil
		}
		switch strings.ToUpper(token) {
		case "R", "G", "B":
			return strings.ToUpper(token), nil
		}
	}
	return "", fmt.Errorf("%w from stem %q", ErrAmbiguousChannel, stem)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Returns true for filename suffixes the scanner considers image frames
func IsImageFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff") ||
		strings.HasSuffix(lower, ".png")
}

// Walks the given root and groups all image files by channel key.
// Groups are returned sorted by channel key, files in lexical walk order.
// Directories listed in skipDirs are not descended into, so a profile store
// living inside the acquisition root does not pollute the scan.
// Fails with ErrNoImagesFound if the root holds no image files, and with
// ErrAmbiguousChannel if any image filename cannot be parsed
func Scan(root string, parser ChannelParser, skipDirs ...string) ([]Group, error) {
	skip := map[string]bool{}
	for _, dir := range skipDirs {
		if dir != "" {
			skip[filepath.Clean(dir)] = true
		}
	}
	byChannel := map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skip[filepath.Clean(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsImageFile(d.Name()) {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		channel, err := parser.Parse(stem)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		byChannel[channel] = append(byChannel[channel], path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(byChannel) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoImagesFound, root)
	}

	channels := make([]string, 0, len(byChannel))
	for channel := range byChannel {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	groups := make([]Group, len(channels))
	for i, channel := range channels {
		groups[i] = Group{Channel: channel, Files: byChannel[channel]}
	}
	return groups, nil
}

// Deterministically reduces a file list to at most max entries via stride
// sampling, preserving order. Returns the input when it already fits
func Subsample(files []string, max int) []string {
	if max <= 0 || len(files) <= max {
		return files
	}
	subset := make([]string, max)
	for i := 0; i < max; i++ {
		subset[i] = files[i*len(files)/max]
	}
	return subset
}
