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

package scan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte{0}, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTokenParser(t *testing.T) {
	tcs := []struct {
		stem    string
		channel string
	}{
		{"R0_3_0_Fluorescence_488_nm_Ex", "488"},
		{"tile_0_0_561", "561"},
		{"pos7_b", "B"},
		{"scan_0012", "0012"},
	}
	p := TokenParser{}
	for _, tc := range tcs {
		channel, err := p.Parse(tc.stem)
		if err != nil {
			t.Errorf("%s: unexpected error %s", tc.stem, err.Error())
			continue
		}
		if channel != tc.channel {
			t.Errorf("%s: channel=%s; want %s", tc.stem, channel, tc.channel)
		}
	}

	if _, err := p.Parse("nothing_here"); !errors.Is(err, ErrAmbiguousChannel) {
		t.Errorf("expected ErrAmbiguousChannel, got %v", err)
	}
}

func TestScanGroupsByChannel(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "t0", "tile_0_0_488.tif"))
	touch(t, filepath.Join(root, "t0", "tile_0_1_488.tif"))
	touch(t, filepath.Join(root, "t0", "tile_0_0_561.tif"))
	touch(t, filepath.Join(root, "t1", "tile_0_0_561.tiff"))
	touch(t, filepath.Join(root, "notes.txt")) // ignored

	groups, err := Scan(root, TokenParser{})
	if err != nil {
		t.Fatalf("scan: %s", err.Error())
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups; want 2", len(groups))
	}
	if groups[0].Channel != "488" || len(groups[0].Files) != 2 {
		t.Errorf("group 0 = %v; want channel 488 with 2 files", groups[0])
	}
	if groups[1].Channel != "561" || len(groups[1].Files) != 2 {
		t.Errorf("group 1 = %v; want channel 561 with 2 files", groups[1])
	}
}

func TestScanDeterministic(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c/x_488.tif", "a/y_488.tif", "b/z_488.tif"} {
		touch(t, filepath.Join(root, name))
	}
	first, err := Scan(root, TokenParser{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Scan(root, TokenParser{})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("scan order changed between runs: %v vs %v", first, again)
		}
	}
}

func TestScanSkipsProfileStore(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "t0", "tile_0_0_488.tif"))
	// a profile store inside the acquisition root must not be scanned,
	// its preview images carry no parsable channel key
	touch(t, filepath.Join(root, "flatfields", "488", "preview.png"))

	if _, err := Scan(root, TokenParser{}); !errors.Is(err, ErrAmbiguousChannel) {
		t.Errorf("expected ErrAmbiguousChannel without skip, got %v", err)
	}
	groups, err := Scan(root, TokenParser{}, filepath.Join(root, "flatfields"))
	if err != nil {
		t.Fatalf("scan: %s", err.Error())
	}
	if len(groups) != 1 || groups[0].Channel != "488" || len(groups[0].Files) != 1 {
		t.Errorf("groups=%v; want only the acquisition frame", groups)
	}
}

func TestScanErrors(t *testing.T) {
	empty := t.TempDir()
	if _, err := Scan(empty, TokenParser{}); !errors.Is(err, ErrNoImagesFound) {
		t.Errorf("expected ErrNoImagesFound, got %v", err)
	}

	root := t.TempDir()
	touch(t, filepath.Join(root, "mystery.tif"))
	if _, err := Scan(root, TokenParser{}); !errors.Is(err, ErrAmbiguousChannel) {
		t.Errorf("expected ErrAmbiguousChannel, got %v", err)
	}
}

func TestSubsample(t *testing.T) {
	files := []string{"a", "b", "c", "d", "e", "f"}
	if got := Subsample(files, 10); !reflect.DeepEqual(got, files) {
		t.Errorf("subsample above len changed input: %v", got)
	}
	got := Subsample(files, 3)
	want := []string{"a", "c", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("subsample=%v; want %v", got, want)
	}
	// deterministic
	if again := Subsample(files, 3); !reflect.DeepEqual(got, again) {
		t.Errorf("subsample not deterministic")
	}
}
