package legacy_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
	"github.com/warp/holiday-engine/legacy"
	"github.com/warp/holiday-engine/store/sqlite"
)

var header = []interface{}{
	"Date", "StaffName", "Value", "",
	"Name", "Role", "Entitlement",
	"Dr Monday Hours", "Dr Tuesday Hours",
	"Staff Monday Hours (HH:MM)", "Staff Tuesday Hours (HH:MM)", "Staff Wednesday Hours (HH:MM)",
}

// transferWorkbook builds an export shaped like the old system's.
func transferWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]interface{}{
		header,
		{"2025-01-06", "Jane Nurse", "7:30", "", "Jane Nurse", "Nurse", "25 days, 7:30:00", "", "", "7:30", "7:30", "7:30"},
		{"2025-01-07", "Jane Nurse", "7:30", "", "Dr Patel", "GP", "36", 2, 1, "", "", ""},
		{"2025-01-06", "Dr Patel", "2", "", "Name", "Role", "Entitlement", "", "", "", "", ""},
		{"", "", "", "", "Jane Nurse", "Nurse", "25 days, 7:30:00", "", "", "7:30", "7:30", "7:30"},
		{"not a date", "Jane Nurse", "7:30", "", "", "", "", "", "", "", "", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestLoad_XLSX(t *testing.T) {
	// GIVEN: a generated transfer workbook
	buf := transferWorkbook(t)

	// WHEN: loading it
	wb, err := legacy.Load(buf, "HolidayTransfer.xlsx", "site-1")
	require.NoError(t, err)

	// THEN: both tables are read, the repeated header and duplicate are skipped
	require.Len(t, wb.Staff, 2)
	nurse := wb.Staff[0]
	assert.Equal(t, "Jane Nurse", nurse.Name)
	assert.Equal(t, "25 days, 7:30:00", nurse.Entitlement)
	assert.Equal(t, map[time.Weekday]string{time.Monday: "7:30", time.Tuesday: "7:30", time.Wednesday: "7:30"}, nurse.Pattern)

	gp := wb.Staff[1]
	assert.Equal(t, "GP", gp.Role)
	assert.Equal(t, map[time.Weekday]string{time.Monday: "2", time.Tuesday: "1"}, gp.Pattern)

	require.Len(t, wb.Days, 3)
	assert.Equal(t, generic.NewTimePoint(2025, time.January, 6), wb.Days[0].Date)
	assert.Equal(t, "site-1", wb.Days[0].SiteID)
	assert.Equal(t, "Dr Patel", wb.Days[2].StaffName)

	require.Len(t, wb.Errors, 1)
	assert.Equal(t, 6, wb.Errors[0].Row)
}

func TestLoad_CSV(t *testing.T) {
	csv := "Date,Staff Name,Value,Reason\n06/01/2025,Jane Nurse,7:30,Skiing\n45663,Jane Nurse,7:30,\n"

	wb, err := legacy.Load(strings.NewReader(csv), "days.csv", "site-1")
	require.NoError(t, err)
	require.Len(t, wb.Days, 2)
	assert.Equal(t, "Skiing", wb.Days[0].Reason)
	assert.Equal(t, generic.NewTimePoint(2025, time.January, 6), wb.Days[0].Date)
	// Excel serial 45663 is 6 Jan 2025.
	assert.Equal(t, generic.NewTimePoint(2025, time.January, 6), wb.Days[1].Date)
	assert.Empty(t, wb.Staff)
}

func TestLoad_RejectsUnknownInput(t *testing.T) {
	_, err := legacy.Load(strings.NewReader("x"), "notes.txt", "site-1")
	assert.ErrorIs(t, err, legacy.ErrUnsupportedFormat)

	_, err = legacy.Load(strings.NewReader("Foo,Bar\n1,2\n"), "other.csv", "site-1")
	assert.Error(t, err)

	_, err = legacy.Load(strings.NewReader(""), "empty.csv", "site-1")
	assert.ErrorIs(t, err, legacy.ErrEmptyWorkbook)
}

func TestDetectFormat(t *testing.T) {
	for name, want := range map[string]legacy.Format{
		"a.xlsx": legacy.FormatXLSX,
		"B.XLS":  legacy.FormatXLS,
		"c.csv":  legacy.FormatCSV,
	} {
		got, err := legacy.DetectFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestParseDate(t *testing.T) {
	want := generic.NewTimePoint(2025, time.March, 7)
	for _, in := range []string{"2025-03-07", "07/03/2025", "7/3/2025", "7 Mar 2025", "2025-03-07 00:00:00"} {
		got, err := legacy.ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := legacy.ParseDate("next Friday")
	assert.Error(t, err)
}

func TestWorkbook_EndToEndImport(t *testing.T) {
	// GIVEN: an empty database and the transfer workbook
	ctx := context.Background()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	rec := holiday.NewReconciler(store, holiday.Options{}, holiday.ImportOptions{Workers: 2})

	wb, err := legacy.Load(transferWorkbook(t), "HolidayTransfer.xlsx", "site-1")
	require.NoError(t, err)

	// WHEN: provisioning staff, grouping days and importing
	report, err := legacy.Apply(ctx, rec, wb, 2025)
	require.NoError(t, err)

	// THEN: the nurse's two days and the GP's Monday are booked
	require.Len(t, report.Staff, 2)
	assert.Empty(t, report.StaffErrors)
	assert.Empty(t, report.GroupErrors)
	assert.Len(t, report.RowErrors, 1)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 2, report.Result.Imported)
	assert.Empty(t, report.Result.Errors)

	// AND: a second upload changes nothing
	again, err := legacy.Apply(ctx, rec, wb, 2025)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Result.Imported)
	assert.Equal(t, 2, again.Result.Skipped)

	mgr := holiday.NewManager(store, holiday.Options{})
	b, err := mgr.Balance(ctx, report.Staff[0].ID, 2025)
	require.NoError(t, err)
	assert.True(t, b.Approved.Value.Equal(generic.NewAmount(15, generic.UnitHours).Value))
}
