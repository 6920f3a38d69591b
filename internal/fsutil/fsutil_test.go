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

package fsutil

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_fsutil")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "nested", "out.csv")
	if Exists(path) {
		t.Fatal("file should not exist yet")
	}
	if err := WriteBytes(path, []byte("a,b\n")); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte("a,b\n")) {
		t.Errorf("have %q", b)
	}

	// A failed write leaves the previous content and no temporary files.
	failure := errors.New("write failed")
	err = WriteFile(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return failure
	})
	if err != failure {
		t.Errorf("have error %v, want %v", err, failure)
	}
	b, _ = ioutil.ReadFile(path)
	if string(b) != "a,b\n" {
		t.Errorf("content changed after failed write: %q", b)
	}
	files, err := ioutil.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("temporary files left behind: %d files", len(files))
	}
}
