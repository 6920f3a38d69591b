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
	"io"
	"strconv"

	"github.com/tealeg/xlsx"
)

// WriteXLSX writes the table attributes to a single-sheet Excel
// workbook. Values that parse as numbers are stored as numbers.
func WriteXLSX(w io.Writer, t *Table, sheetName string) error {
	if len(sheetName) > 31 {
		sheetName = sheetName[:31]
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return err
	}
	header := sheet.AddRow()
	for _, c := range t.Columns {
		header.AddCell().SetString(c)
	}
	for _, r := range t.Records {
		row := sheet.AddRow()
		for _, c := range t.Columns {
			cell := row.AddCell()
			v := r.Values[c]
			if fv, err := strconv.ParseFloat(v, 64); err == nil {
				cell.SetFloat(fv)
			} else {
				cell.SetString(v)
			}
		}
	}
	return f.Write(w)
}
