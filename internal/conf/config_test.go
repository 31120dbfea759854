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

package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if cfg.Estimation.MaxIterations != 50 || cfg.Estimation.MinImages != 8 {
		t.Errorf("estimation defaults=%+v; want maxIterations 50, minImages 8", cfg.Estimation)
	}
	if cfg.Run.Suffix != "_corrected" {
		t.Errorf("suffix=%q; want _corrected", cfg.Run.Suffix)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatfield.yaml")
	yaml := "estimation:\n  maxIterations: 80\n  darkfield: true\nrun:\n  workers: 3\n  suffix: _ff\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if cfg.Estimation.MaxIterations != 80 || !cfg.Estimation.Darkfield {
		t.Errorf("estimation=%+v; want maxIterations 80, darkfield true", cfg.Estimation)
	}
	if cfg.Estimation.MinImages != 8 {
		t.Errorf("minImages=%d; want untouched default 8", cfg.Estimation.MinImages)
	}
	if cfg.Run.Workers != 3 || cfg.Run.Suffix != "_ff" {
		t.Errorf("run=%+v; want workers 3, suffix _ff", cfg.Run)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("estimation: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "flatfield.yaml")
	src := DefaultConfig()
	src.Estimation.SparseLambda = 0.25
	src.Run.MemoryMB = 2048
	if err := Save(src, path); err != nil {
		t.Fatalf("save: %s", err.Error())
	}
	dst, err := Load(path)
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if dst.Estimation.SparseLambda != 0.25 || dst.Run.MemoryMB != 2048 {
		t.Errorf("round trip lost values: %+v", dst)
	}
}
