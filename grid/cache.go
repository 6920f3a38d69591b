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

package grid

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/internal/hash"
	"github.com/sirupsen/logrus"
)

// DefaultTemplate is the default location of cached grids.
const DefaultTemplate = "data/grid/grid_{distance}_{units}.shp"

// BuildFunc creates a grid that is not cached yet.
type BuildFunc func(ctx context.Context) (*Grid, error)

// Cache stores grids as shapefiles at paths derived from their cell
// size, so a grid is only built once per distance and unit. Concurrent
// requests for the same path share a single build.
type Cache struct {
	// Template is the path of a cached grid, where {distance} and {units}
	// are replaced by the cell distance and unit.
	Template string

	Log logrus.FieldLogger

	once sync.Once
	rc   *requestcache.Cache
}

// cacheKey identifies a request for a cached grid.
type cacheKey struct {
	Template string
	Distance float64
	Units    Unit
}

type cacheRequest struct {
	path  string
	build BuildFunc
}

// Path returns the cache path for grids of cells d units wide.
func (c *Cache) Path(d float64, u Unit) string {
	tmpl := c.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	units := string(u)
	if u == Raw {
		units = "raw"
	}
	return strings.NewReplacer(
		"{distance}", strconv.FormatFloat(d, 'f', -1, 64),
		"{units}", units,
	).Replace(tmpl)
}

// Get returns the grid cached for d and u, reading it from disk if it
// is there and otherwise calling build and writing the result.
func (c *Cache) Get(ctx context.Context, d float64, u Unit, build BuildFunc) (*Grid, error) {
	c.once.Do(func() {
		c.rc = requestcache.NewCache(c.load, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(4))
	})
	key := hash.Key(cacheKey{Template: c.Template, Distance: d, Units: u})
	req := c.rc.NewRequest(ctx, &cacheRequest{path: c.Path(d, u), build: build}, key)
	iface, err := req.Result()
	if err != nil {
		return nil, err
	}
	return iface.(*Grid), nil
}

func (c *Cache) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Cache) load(ctx context.Context, payload interface{}) (interface{}, error) {
	r := payload.(*cacheRequest)
	log := c.log().WithField("path", r.path)
	if fsutil.Exists(r.path) {
		log.Info("loading cached grid")
		return ReadShapefile(r.path)
	}
	log.Info("building grid")
	g, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.WriteShapefile(r.path); err != nil {
		return nil, err
	}
	log.WithField("cells", len(g.Cells)).Info("saved grid")
	return g, nil
}
