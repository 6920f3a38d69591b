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

// Package remote keeps local copies of remote data files up to date.
package remote

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/mkrvjl/civicgrid"
	"github.com/mkrvjl/civicgrid/dataset"
	"github.com/mkrvjl/civicgrid/internal/fsutil"
	"github.com/mkrvjl/civicgrid/internal/hash"
	"github.com/sirupsen/logrus"
)

// DefaultWindow is the default freshness window.
const DefaultWindow = 7 * 24 * time.Hour

// DefaultUserAgent is sent with every HTTP request; some open data
// portals refuse requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0"

// Action is what Sync did to a local file.
type Action int

// Sync outcomes.
const (
	// Skipped means the local file was recent enough that the remote
	// was not contacted.
	Skipped Action = iota
	// Downloaded means there was no local file and one was created.
	Downloaded
	// Updated means the local content differed from the remote and
	// was replaced.
	Updated
	// Touched means the local content matched the remote and only its
	// modification time was reset.
	Touched
)

func (a Action) String() string {
	switch a {
	case Skipped:
		return "skipped"
	case Downloaded:
		return "downloaded"
	case Updated:
		return "updated"
	case Touched:
		return "touched"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Synchronizer mirrors remote files to local paths, comparing content
// digests rather than timestamps to decide whether a stale local file
// needs to be replaced.
type Synchronizer struct {
	// Client is used for http and https sources.
	Client *http.Client

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// Window is how long after its last modification a local file is
	// trusted without contacting the remote.
	Window time.Duration

	// MaxRetries is the number of times a failed fetch is retried with
	// exponential backoff. Zero means a single attempt.
	MaxRetries uint64

	Log logrus.FieldLogger

	now func() time.Time
}

// New returns a Synchronizer with the default window, user agent
// and no retries.
func New() *Synchronizer {
	return &Synchronizer{
		Client:    http.DefaultClient,
		UserAgent: DefaultUserAgent,
		Window:    DefaultWindow,
		Log:       logrus.StandardLogger(),
		now:       time.Now,
	}
}

func (s *Synchronizer) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Synchronizer) timeNow() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Sync makes the file at local mirror the file at remoteURL.
//
// If local does not exist, the remote file is downloaded. If local was
// modified within the freshness window, nothing is done. Otherwise the
// remote file is fetched and its digest compared with the local one:
// differing content is overwritten, identical content only has its
// modification time reset to now.
func (s *Synchronizer) Sync(ctx context.Context, remoteURL, local string) (Action, error) {
	const op = "remote: sync"
	log := s.log().WithFields(logrus.Fields{"url": remoteURL, "path": local})

	var localHash string
	exists := false
	fi, err := os.Stat(local)
	switch {
	case err == nil:
		exists = true
		if age := s.timeNow().Sub(fi.ModTime()); age <= s.Window {
			log.Debugf("local file is %v old; skipping", age.Round(time.Second))
			return Skipped, nil
		}
		if localHash, err = hash.File(local); err != nil {
			return Skipped, civicgrid.E(civicgrid.IO, op, local, err)
		}
	case os.IsNotExist(err):
	default:
		return Skipped, civicgrid.E(civicgrid.IO, op, local, err)
	}

	log.Info("reading remote file")
	data, err := s.Fetch(ctx, remoteURL)
	if err != nil {
		return Skipped, err
	}
	remoteHash := hash.Bytes(data)

	if exists && localHash == remoteHash {
		now := s.timeNow()
		if err := os.Chtimes(local, now, now); err != nil {
			return Skipped, civicgrid.E(civicgrid.IO, op, local, err)
		}
		log.Info("file is already up to date")
		return Touched, nil
	}

	if err := fsutil.WriteBytes(local, data); err != nil {
		return Skipped, civicgrid.E(civicgrid.IO, op, local, err)
	}
	// Make sure what was written can be read back intact.
	written, err := hash.File(local)
	if err != nil {
		return Skipped, civicgrid.E(civicgrid.IO, op, local, fmt.Errorf("reading back downloaded file: %v", err))
	}
	if written != remoteHash {
		return Skipped, civicgrid.E(civicgrid.IO, op, local, fmt.Errorf("downloaded file is corrupt"))
	}
	if exists {
		log.Info("file updated")
		return Updated, nil
	}
	log.Info("file downloaded")
	return Downloaded, nil
}

// SyncFile is like Sync, but when remoteURL names a shapefile the
// .dbf and .shx files next to it are synchronized as well, and so is
// the .prj file if the remote has one.
func (s *Synchronizer) SyncFile(ctx context.Context, remoteURL, local string) (Action, error) {
	a, err := s.Sync(ctx, remoteURL, local)
	if err != nil {
		return a, err
	}
	for _, side := range expandShp(remoteURL)[1:] {
		ext := filepath.Ext(side)
		sideLocal := strings.TrimSuffix(local, filepath.Ext(local)) + ext
		if _, err := s.Sync(ctx, side, sideLocal); err != nil {
			if ext == ".prj" {
				s.log().WithField("url", side).WithError(err).Warn("shapefile has no projection file")
				continue
			}
			return a, err
		}
	}
	return a, nil
}

// SyncDescriptors synchronizes every available format of every
// descriptor to its local path. Formats without a remote file, and
// descriptors pointing at local files, are skipped.
func (s *Synchronizer) SyncDescriptors(ctx context.Context, descriptors []*dataset.Descriptor) error {
	s.log().Debugf("validating %d datasets", len(descriptors))
	for _, d := range descriptors {
		if d == nil {
			continue
		}
		remote := d.Remote()
		for _, f := range dataset.Formats {
			log := s.log().WithFields(logrus.Fields{"dataset": d.Name(), "key": f})
			u, ok := remote[f]
			if !ok {
				log.Debug("ignoring empty key")
				continue
			}
			if !IsRemote(u) {
				log.Debug("local source; nothing to synchronize")
				continue
			}
			local, _ := d.LocalPath(f)
			if _, err := s.SyncFile(ctx, u, local); err != nil {
				return fmt.Errorf("remote: dataset %s: %w", d.Name(), err)
			}
		}
	}
	return nil
}

// Fetch returns the content of the file at remoteURL, which may be an
// http(s) URL or a blob URL (see IsBlob). Failed attempts are retried
// up to MaxRetries times.
func (s *Synchronizer) Fetch(ctx context.Context, remoteURL string) ([]byte, error) {
	var data []byte
	operation := func() error {
		var err error
		if IsBlob(remoteURL) {
			data, err = fetchBlob(ctx, remoteURL)
		} else {
			data, err = s.fetchHTTP(ctx, remoteURL)
		}
		return err
	}
	err := backoff.RetryNotify(
		operation,
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.MaxRetries),
		func(err error, d time.Duration) {
			s.log().WithField("url", remoteURL).WithError(err).Warnf("retrying in %v", d)
		},
	)
	if err != nil {
		return nil, civicgrid.E(civicgrid.IO, "remote: fetch", remoteURL, err)
	}
	return data, nil
}

func (s *Synchronizer) fetchHTTP(ctx context.Context, remoteURL string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", s.UserAgent)
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return ioutil.ReadAll(resp.Body)
}

// IsRemote returns whether the given location needs to be fetched,
// i.e. it is an http(s) URL or a blob.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || IsBlob(path)
}

// expandShp returns the given file + associated [.dbf, .shx, .prj]
// files if the given file has the .shp extension, and returns the given
// file otherwise.
func expandShp(filename string) []string {
	o := []string{filename}
	if filepath.Ext(filename) != ".shp" {
		return o
	}
	for _, newExt := range []string{".dbf", ".shx", ".prj"} {
		o = append(o, filename[0:len(filename)-4]+newExt)
	}
	return o
}
