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
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads a table from CSV data with a header row. The records
// have no geometry.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return NewTable(), nil
	} else if err != nil {
		return nil, fmt.Errorf("dataset: reading csv header: %v", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	t := NewTable(header...)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("dataset: reading csv: %v", err)
		}
		line++
		if len(row) > len(header) {
			return nil, fmt.Errorf("dataset: reading csv: line %d has %d fields but the header has %d",
				line, len(row), len(header))
		}
		rec := NewRecord(nil)
		for i, v := range row {
			rec.Values[header[i]] = v
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// WriteCSV writes the table attributes as CSV with a header row.
// Geometries are not written.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	row := make([]string, len(t.Columns))
	for _, r := range t.Records {
		for i, c := range t.Columns {
			row[i] = r.Values[c]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
