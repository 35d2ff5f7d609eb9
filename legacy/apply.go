package legacy

import (
	"context"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// Report summarises one workbook run through the reconciler.
type Report struct {
	Staff       []holiday.StaffMember
	StaffErrors []holiday.RecordError
	GroupErrors []holiday.RecordError
	RowErrors   []RowError
	Records     int
	Result      holiday.ImportResult
}

// Apply provisions the workbook's staff for year, then groups and imports
// its booked days. Staff go first so the day rows can resolve names.
func Apply(ctx context.Context, rec *holiday.Reconciler, wb *Workbook, year generic.LeaveYear) (*Report, error) {
	report := &Report{RowErrors: wb.Errors}

	if len(wb.Staff) > 0 {
		report.Staff, report.StaffErrors = rec.ProvisionLegacyStaff(ctx, wb.Staff, year)
	}

	records, groupErrs := rec.GroupLegacyDays(ctx, wb.Days)
	report.GroupErrors = groupErrs
	report.Records = len(records)

	result, err := rec.ImportLegacyRecords(ctx, records)
	report.Result = result
	if err != nil {
		return report, err
	}
	return report, nil
}
