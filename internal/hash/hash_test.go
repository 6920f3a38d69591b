/*
Copyright © 2023 the civicgrid authors.
This file is part of civicgrid.

civicgrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

civicgrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with civicgrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package hash

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBytes(t *testing.T) {
	// SHA-256 of the empty string.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h := Bytes(nil); h != want {
		t.Errorf("have %s, want %s", h, want)
	}
	r, err := Reader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if r != want {
		t.Errorf("reader digest %s differs from bytes digest", r)
	}
}

func TestFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_hash")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "a.csv")
	data := []byte("grid_id,count\n0,1\n")
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := File(path)
	if err != nil {
		t.Fatal(err)
	}
	if h != Bytes(data) {
		t.Errorf("file digest %s differs from %s", h, Bytes(data))
	}
	if _, err := File(filepath.Join(dir, "missing.csv")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestKey(t *testing.T) {
	type key struct {
		Distance float64
		Units    string
	}
	a := Key(key{500, "m"})
	b := Key(key{500, "m"})
	c := Key(key{1, "km"})
	if a != b {
		t.Errorf("equal objects gave different keys: %s, %s", a, b)
	}
	if a == c {
		t.Errorf("different objects gave the same key")
	}
	nan := Key(map[float64]int{math.NaN(): 1})
	if nan == "" {
		t.Errorf("spew fallback produced an empty key")
	}
}
