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

package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mkrvjl/civicgrid"
)

// Descriptor identifies a data source: where its remote copies live,
// which local directory they are mirrored into and which format is
// worked with. Descriptors are not modified after creation.
type Descriptor struct {
	name, url, directory, description string
	working                           Format
	remote                            map[Format]string
}

// DescriptorConfig holds the fields used to create a Descriptor.
type DescriptorConfig struct {
	Name        string
	URL         string
	Directory   string
	Description string

	// WorkingFormat is the format processors load. If empty, the first
	// available format in Formats is used.
	WorkingFormat Format

	// Remote maps each published format to its URL. Empty entries
	// mean the format is not available.
	Remote map[Format]string
}

// NewDescriptor creates a new descriptor, returning a configuration
// error if no format is available or the working format has no
// remote entry.
func NewDescriptor(c DescriptorConfig) (*Descriptor, error) {
	const op = "dataset: new descriptor"
	d := &Descriptor{
		name:        c.Name,
		url:         c.URL,
		directory:   c.Directory,
		description: c.Description,
		working:     c.WorkingFormat,
		remote:      make(map[Format]string),
	}
	for f, u := range c.Remote {
		if _, err := ParseFormat(string(f)); err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, c.Name, err)
		}
		if u != "" {
			d.remote[f] = u
		}
	}
	if len(d.remote) == 0 {
		return nil, civicgrid.E(civicgrid.Configuration, op, c.Name,
			fmt.Errorf("at least one of %v must be specified", Formats))
	}
	if d.working == "" {
		for _, f := range Formats {
			if _, ok := d.remote[f]; ok {
				d.working = f
				break
			}
		}
	}
	if _, ok := d.remote[d.working]; !ok {
		return nil, civicgrid.E(civicgrid.Configuration, op, c.Name,
			fmt.Errorf("working format %q has no remote file", d.working))
	}
	return d, nil
}

// Name returns the data source identifier.
func (d *Descriptor) Name() string { return d.name }

// URL returns the canonical page of the data source, if any.
func (d *Descriptor) URL() string { return d.url }

// Directory returns the local directory files are mirrored into.
func (d *Descriptor) Directory() string { return d.directory }

// Description returns the free-form description.
func (d *Descriptor) Description() string { return d.description }

// WorkingFormat returns the format processors load.
func (d *Descriptor) WorkingFormat() Format { return d.working }

// Remote returns a copy of the format to URL mapping.
func (d *Descriptor) Remote() map[Format]string {
	o := make(map[Format]string, len(d.remote))
	for f, u := range d.remote {
		o[f] = u
	}
	return o
}

// LocalPath returns where the file for format f is kept locally:
// the descriptor directory joined with the base name of the remote
// file. If the directory is empty the remote location is used as is,
// which allows descriptors to point at local files.
func (d *Descriptor) LocalPath(f Format) (string, bool) {
	u, ok := d.remote[f]
	if !ok {
		return "", false
	}
	if d.directory == "" {
		return u, true
	}
	return filepath.Join(d.directory, remoteBase(u)), true
}

// LocalPaths returns the local path of every available format.
func (d *Descriptor) LocalPaths() map[Format]string {
	o := make(map[Format]string, len(d.remote))
	for f := range d.remote {
		o[f], _ = d.LocalPath(f)
	}
	return o
}

// WorkingPath returns the local path of the working format file.
func (d *Descriptor) WorkingPath() string {
	p, _ := d.LocalPath(d.working)
	return p
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (%s: %s)", d.name, d.working, d.WorkingPath())
}

// remoteBase returns the last element of the path of a URL or file path.
func remoteBase(u string) string {
	if p, err := url.Parse(u); err == nil && p.Scheme != "" && len(p.Scheme) > 1 {
		return path.Base(p.Path)
	}
	return filepath.Base(u)
}

// descriptorFile is the on-disk layout of a descriptor. Missing keys
// are left empty.
type descriptorFile struct {
	Name          string            `toml:"name" json:"name"`
	Description   string            `toml:"description" json:"description"`
	URL           string            `toml:"url" json:"url"`
	Directory     string            `toml:"directory" json:"directory"`
	WorkingFormat string            `toml:"working_db_format" json:"working_db_format"`
	Remote        map[string]string `toml:"remote" json:"remote"`
}

// LoadDescriptor reads a descriptor from a TOML (.toml) or JSON
// (.json) file. A missing file, a duplicated key in the remote
// mapping or an unknown format are configuration errors.
func LoadDescriptor(filename string) (*Descriptor, error) {
	const op = "dataset: loading descriptor"
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, fmt.Errorf("file not found"))
		}
		return nil, civicgrid.E(civicgrid.IO, op, filename, err)
	}
	var df descriptorFile
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(b), &df); err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
		}
	case ".json":
		if err := checkDuplicateKeys(b, "remote"); err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
		}
		if err := json.Unmarshal(b, &df); err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
		}
	default:
		return nil, civicgrid.E(civicgrid.Configuration, op, filename,
			fmt.Errorf("unsupported descriptor file extension %q", filepath.Ext(filename)))
	}
	c := DescriptorConfig{
		Name:        df.Name,
		URL:         df.URL,
		Directory:   df.Directory,
		Description: df.Description,
		Remote:      make(map[Format]string),
	}
	if df.WorkingFormat != "" {
		if c.WorkingFormat, err = ParseFormat(df.WorkingFormat); err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
		}
	}
	for k, v := range df.Remote {
		f, err := ParseFormat(k)
		if err != nil {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
		}
		if _, ok := c.Remote[f]; ok && v != "" {
			return nil, civicgrid.E(civicgrid.Configuration, op, filename,
				fmt.Errorf("key %q is specified more than once", k))
		}
		c.Remote[f] = v
	}
	d, err := NewDescriptor(c)
	if err != nil {
		return nil, civicgrid.E(civicgrid.Configuration, op, filename, err)
	}
	return d, nil
}

// checkDuplicateKeys walks JSON document b and returns an error if
// the object stored under the top-level key name has a key more than
// once. encoding/json silently keeps the last value in that case.
func checkDuplicateKeys(b []byte, name string) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("descriptor must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		if key != name {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			if tok == nil { // null
				continue
			}
			return fmt.Errorf("%q must be an object", name)
		}
		seen := make(map[string]bool)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			k := tok.(string)
			if seen[k] {
				return fmt.Errorf("key %q in %q is specified more than once", k, name)
			}
			seen[k] = true
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}
