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

// Package correct applies stored flat-field profiles to raw frames:
// corrected = (raw - darkfield) / shading, evaluated per pixel
package correct

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/frame"
)

// Reported when a frame's dimensions do not match the profile's maps
var ErrDimensionMismatch = errors.New("frame dimensions do not match profile")

// Apply corrects a frame in place using the given profile. The shading map is
// strictly positive by construction, so the division is always defined.
// On dimension mismatch the frame is left unmodified
func Apply(f *frame.Image, prof *basic.Profile) error {
	if !frame.EqualInt32Slice(f.Naxisn, prof.Shading.Naxisn) {
		return fmt.Errorf("%s: %w: frame is %s, profile is %s",
			f.FileName, ErrDimensionMismatch, f.DimensionsToString(), prof.Shading.DimensionsToString())
	}
	shading, dark := prof.Shading.Data, prof.Darkfield.Data
	for p, v := range f.Data {
		f.Data[p] = (v - dark[p]) / shading[p]
	}
	f.Stats = nil
	return nil
}

// CorrectFile reads a raw frame, corrects it with the profile, and writes it
// to outPath in the same format and bit depth. Nothing is written on error
func CorrectFile(inPath, outPath string, prof *basic.Profile) error {
	f, err := frame.ReadFile(inPath, 0)
	if err != nil {
		return err
	}
	if err := Apply(f, prof); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("%s: %w", outPath, err)
	}
	return f.WriteFile(outPath)
}

// Reported when a corrected frame would land on top of its source file
var ErrOverwriteSource = errors.New("corrected output would overwrite the original")

// OutputPath mirrors a raw frame path from inRoot into the corrected output
// tree, keeping the relative path and file name unchanged. With an empty
// outRoot the output tree is a sibling directory of inRoot, named after it
// with the given suffix. The acquisition tree is never written into
func OutputPath(inRoot, outRoot, path, suffix string) (string, error) {
	rel, err := filepath.Rel(inRoot, path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if outRoot == "" {
		outRoot = filepath.Clean(inRoot) + suffix
	}
	outPath := filepath.Join(outRoot, rel)
	if outPath == filepath.Clean(path) {
		return "", fmt.Errorf("%s: %w", path, ErrOverwriteSource)
	}
	return outPath, nil
}
