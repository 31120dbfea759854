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

package profile

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/flatfield/internal/basic"
	"github.com/mlnoga/flatfield/internal/frame"
)

func makeProfile(channel string, width, height int32) *basic.Profile {
	shading := frame.NewImageFromNaxisn([]int32{width, height}, nil, -32)
	dark := frame.NewImageFromNaxisn([]int32{width, height}, nil, -32)
	for i := range shading.Data {
		shading.Data[i] = 0.7 + 0.6*float32(math.Sin(float64(i)*0.1))
		dark.Data[i] = float32(i % 5)
	}
	shading.Channel, dark.Channel = channel, channel
	return &basic.Profile{
		Channel:    channel,
		Shading:    shading,
		Darkfield:  dark,
		Baseline:   []float64{101.5, 98.25, 100},
		Iterations: 12,
		Converged:  true,
	}
}

func TestSaveLoadRoundTripBitForBit(t *testing.T) {
	store := NewStore(t.TempDir())
	src := makeProfile("488", 19, 7)
	if err := store.Save(src); err != nil {
		t.Fatalf("save: %s", err.Error())
	}

	dst, err := store.Load("488")
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if dst.Channel != "488" || dst.Iterations != 12 || !dst.Converged {
		t.Errorf("meta = %s/%d/%v; want 488/12/true", dst.Channel, dst.Iterations, dst.Converged)
	}
	if len(dst.Baseline) != 3 || dst.Baseline[0] != 101.5 {
		t.Errorf("baseline=%v; want %v", dst.Baseline, src.Baseline)
	}
	for i, v := range dst.Shading.Data {
		if math.Float32bits(v) != math.Float32bits(src.Shading.Data[i]) {
			t.Fatalf("shading[%d] not bit-identical after round trip", i)
		}
	}
	for i, v := range dst.Darkfield.Data {
		if math.Float32bits(v) != math.Float32bits(src.Darkfield.Data[i]) {
			t.Fatalf("darkfield[%d] not bit-identical after round trip", i)
		}
	}
	if _, err := os.Stat(filepath.Join(store.ChannelDir("488"), "preview.png")); err != nil {
		t.Errorf("preview.png missing: %v", err)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save(makeProfile("561", 8, 8)); err != nil {
		t.Fatal(err)
	}
	updated := makeProfile("561", 8, 8)
	updated.Iterations = 33
	if err := store.Save(updated); err != nil {
		t.Fatal(err)
	}
	dst, err := store.Load("561")
	if err != nil {
		t.Fatal(err)
	}
	if dst.Iterations != 33 {
		t.Errorf("iterations=%d; want 33 after overwrite", dst.Iterations)
	}
}

func TestLoadNotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Load("640"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChannelKeySanitized(t *testing.T) {
	store := NewStore(t.TempDir())
	src := makeProfile("488/nm", 6, 6)
	if err := store.Save(src); err != nil {
		t.Fatalf("save: %s", err.Error())
	}
	dir := store.ChannelDir("488/nm")
	if filepath.Base(dir) != "488_nm" {
		t.Errorf("dir=%s; want base 488_nm", dir)
	}
	dst, err := store.Load("488/nm")
	if err != nil {
		t.Fatalf("load: %s", err.Error())
	}
	if dst.Channel != "488/nm" {
		t.Errorf("channel=%s; want original key restored", dst.Channel)
	}
}

func TestLoadAll(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, channel := range []string{"561", "488", "B"} {
		if err := store.Save(makeProfile(channel, 5, 5)); err != nil {
			t.Fatal(err)
		}
	}
	// an unrelated directory must be skipped
	if err := os.MkdirAll(filepath.Join(store.Root, "logs"), 0755); err != nil {
		t.Fatal(err)
	}

	profiles, err := store.LoadAll()
	if err != nil {
		t.Fatalf("loadAll: %s", err.Error())
	}
	if len(profiles) != 3 {
		t.Fatalf("got %d profiles; want 3", len(profiles))
	}
	want := []string{"488", "561", "B"}
	for i, prof := range profiles {
		if prof.Channel != want[i] {
			t.Errorf("profiles[%d].Channel=%s; want %s", i, prof.Channel, want[i])
		}
	}
}
