/*
Package legacy reads the holiday transfer workbook exported by the old
system.

PURPOSE:
  Turns a spreadsheet into the row types the reconciler understands:
  holiday.LegacyStaff (who, role, allowance, weekly pattern) and
  holiday.LegacyDay (one booked day per row). Nothing here touches the
  ledger; cmd/importer and the /admin/import endpoint hand the result to
  holiday.Reconciler.

WORKBOOK LAYOUT:
  A single sheet carrying two side-by-side tables, matched by header:

    Date | StaffName | Value | Reason
    Name | Role | Entitlement | Carried Over
    Dr Monday Hours .. Dr Friday Hours               (sessions)
    Staff Monday Hours (HH:MM) .. Staff Friday Hours  (hours)

  Either table may be absent. Header matching ignores case, spaces and
  punctuation, so "Staff Name" and "StaffName" are the same column.

FORMATS:
  .xlsx via excelize, .xls via extrame/xls, .csv via encoding/csv.

SEE ALSO:
  - holiday/reconcile.go: GroupLegacyDays, ProvisionLegacyStaff
  - cmd/importer: batch entry point
*/
package legacy

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

// maxXLSRows bounds how much of an .xls sheet is read.
const maxXLSRows = 100000

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrEmptyWorkbook     = errors.New("worksheet is empty")
)

// DetectFormat picks a reader from the file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ReadRows returns the cells of the first sheet as text.
func ReadRows(r io.Reader, format Format) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch format {
	case FormatXLS:
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		if workbook.NumSheets() == 0 {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows = workbook.ReadAllCells(maxXLSRows)

	case FormatXLSX:
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("no worksheet found")
		}
		if rows, err = file.GetRows(sheetName); err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheetName, err)
		}

	case FormatCSV:
		cr := csv.NewReader(bytes.NewReader(data))
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		if rows, err = cr.ReadAll(); err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}
	return rows, nil
}
