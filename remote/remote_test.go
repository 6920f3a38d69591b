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

package remote

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
)

// fileServer serves the files in content and records the requests it
// receives.
type fileServer struct {
	mu       sync.Mutex
	content  map[string][]byte
	requests int
	agents   []string
}

func (f *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	b, ok := f.content[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(b)
}

func newTestSynchronizer(now time.Time) *Synchronizer {
	s := New()
	s.now = func() time.Time { return now }
	return s
}

func TestSync(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_remote")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	fs := &fileServer{content: map[string][]byte{
		"/actes-criminels.csv": []byte("CATEGORIE,DATE\nVol,2023-01-01\n"),
	}}
	ts := httptest.NewServer(fs)
	defer ts.Close()

	now := time.Now().Truncate(time.Second)
	s := newTestSynchronizer(now)
	ctx := context.Background()
	u := ts.URL + "/actes-criminels.csv"
	local := filepath.Join(dir, "raw", "crime", "actes-criminels.csv")

	t.Run("absent", func(t *testing.T) {
		a, err := s.Sync(ctx, u, local)
		if err != nil {
			t.Fatal(err)
		}
		if a != Downloaded {
			t.Errorf("action = %v", a)
		}
		b, err := ioutil.ReadFile(local)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, fs.content["/actes-criminels.csv"]) {
			t.Errorf("content = %q", b)
		}
		if fs.agents[0] != "Mozilla/5.0" {
			t.Errorf("user agent = %q", fs.agents[0])
		}
	})

	t.Run("fresh", func(t *testing.T) {
		if err := os.Chtimes(local, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
			t.Fatal(err)
		}
		before := fs.requests
		a, err := s.Sync(ctx, u, local)
		if err != nil {
			t.Fatal(err)
		}
		if a != Skipped {
			t.Errorf("action = %v", a)
		}
		if fs.requests != before {
			t.Errorf("a fresh file should not contact the remote")
		}
	})

	t.Run("stale unchanged", func(t *testing.T) {
		old := now.Add(-8 * 24 * time.Hour)
		if err := os.Chtimes(local, old, old); err != nil {
			t.Fatal(err)
		}
		a, err := s.Sync(ctx, u, local)
		if err != nil {
			t.Fatal(err)
		}
		if a != Touched {
			t.Errorf("action = %v", a)
		}
		fi, err := os.Stat(local)
		if err != nil {
			t.Fatal(err)
		}
		if !fi.ModTime().Equal(now) {
			t.Errorf("modification time = %v, want %v", fi.ModTime(), now)
		}
		b, _ := ioutil.ReadFile(local)
		if !bytes.Equal(b, fs.content["/actes-criminels.csv"]) {
			t.Errorf("content changed: %q", b)
		}
	})

	t.Run("stale changed", func(t *testing.T) {
		old := now.Add(-8 * 24 * time.Hour)
		if err := os.Chtimes(local, old, old); err != nil {
			t.Fatal(err)
		}
		fs.mu.Lock()
		fs.content["/actes-criminels.csv"] = []byte("CATEGORIE,DATE\nVol,2023-01-01\nMéfait,2023-02-01\n")
		fs.mu.Unlock()
		a, err := s.Sync(ctx, u, local)
		if err != nil {
			t.Fatal(err)
		}
		if a != Updated {
			t.Errorf("action = %v", a)
		}
		b, _ := ioutil.ReadFile(local)
		if !bytes.Equal(b, fs.content["/actes-criminels.csv"]) {
			t.Errorf("content = %q", b)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.Sync(ctx, ts.URL+"/missing.csv", filepath.Join(dir, "missing.csv"))
		if !civicgrid.IsKind(err, civicgrid.IO) {
			t.Errorf("expected an i/o error, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "missing.csv")); !os.IsNotExist(err) {
			t.Errorf("no file should be written on failure")
		}
	})
}

func TestSyncBlob(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_remote")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	src := filepath.Join(dir, "bucket")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	content := []byte("ID_UEV,ANNEE_CONS\n1,1950\n")
	if err := ioutil.WriteFile(filepath.Join(src, "uniteevaluationfonciere.csv"), content, 0644); err != nil {
		t.Fatal(err)
	}
	s := newTestSynchronizer(time.Now())
	local := filepath.Join(dir, "local", "uniteevaluationfonciere.csv")
	a, err := s.Sync(context.Background(), "file://"+filepath.ToSlash(src)+"/uniteevaluationfonciere.csv", local)
	if err != nil {
		t.Fatal(err)
	}
	if a != Downloaded {
		t.Errorf("action = %v", a)
	}
	b, err := ioutil.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, content) {
		t.Errorf("content = %q", b)
	}
}

func TestSyncDescriptors(t *testing.T) {
	dir, err := ioutil.TempDir("", "civicgrid_remote")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	fs := &fileServer{content: map[string][]byte{
		"/limites.shp": []byte("shp"),
		"/limites.dbf": []byte("dbf"),
		"/limites.shx": []byte("shx"),
		"/roles.csv":   []byte("ID_CUM\n1\n"),
	}}
	ts := httptest.NewServer(fs)
	defer ts.Close()

	limites, err := dataset.NewDescriptor(dataset.DescriptorConfig{
		Name:      "limites",
		Directory: filepath.Join(dir, "limites"),
		Remote:    map[dataset.Format]string{dataset.Shapefile: ts.URL + "/limites.shp"},
	})
	if err != nil {
		t.Fatal(err)
	}
	roles, err := dataset.NewDescriptor(dataset.DescriptorConfig{
		Name:      "roles",
		Directory: filepath.Join(dir, "roles"),
		Remote: map[dataset.Format]string{
			dataset.CSV:     ts.URL + "/roles.csv",
			dataset.GeoJSON: filepath.Join(dir, "already-local.geojson"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSynchronizer(time.Now())
	if err := s.SyncDescriptors(context.Background(), []*dataset.Descriptor{limites, roles, nil}); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"limites/limites.shp", "limites/limites.dbf", "limites/limites.shx", "roles/roles.csv"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "limites", "limites.prj")); !os.IsNotExist(err) {
		t.Errorf("missing remote .prj should not create a local file")
	}
}
