package exports

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func scheduleFixture() ([]*models.Defect, map[int]*models.Inspection, map[int]string) {
	remediated := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	defects := []*models.Defect{
		{
			ID:              1,
			InspectionId:    10,
			EquipmentItem:   "Swing frame",
			Description:     "Cracked weld on top bar",
			Location:        "North corner",
			RiskRating:      models.RiskRatingVeryHigh,
			Status:          models.DefectStatusOpen,
			RemediationCost: decimal.NewFromFloat(450.00),
		},
		{
			ID:              2,
			InspectionId:    11,
			EquipmentItem:   "Slide",
			Description:     "Worn surface at exit",
			Location:        "Main unit",
			RiskRating:      models.RiskRatingLow,
			Status:          models.DefectStatusRemediated,
			RemediatedAt:    &remediated,
			RemediationNote: "Panel replaced",
			RemediationCost: decimal.NewFromFloat(120.50),
		},
	}
	inspections := map[int]*models.Inspection{
		10: {ID: 10, SiteId: 5, ReportNumber: "INS-10", InspectionDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
		11: {ID: 11, SiteId: 6, ReportNumber: "INS-11", InspectionDate: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)},
	}
	siteNames := map[int]string{5: "Victoria Park", 6: "Mill Lane Rec"}
	return defects, inspections, siteNames
}

func TestBuildDefectScheduleXLSX(t *testing.T) {
	defects, inspections, siteNames := scheduleFixture()

	content, err := BuildDefectScheduleXLSX(defects, inspections, siteNames)
	if err != nil {
		t.Fatalf("BuildDefectScheduleXLSX error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows error: %v", err)
	}
	// header + 2 defects + totals
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "ReportNumber" || rows[0][11] != "CostGross" {
		t.Fatalf("unexpected header row: %v", rows[0])
	}

	first := rows[1]
	if first[0] != "INS-10" || first[1] != "Victoria Park" || first[6] != "Very High" {
		t.Fatalf("unexpected first data row: %v", first)
	}
	// 450.00 net -> 90.00 VAT -> 540.00 gross
	if first[9] != "450.00" || first[10] != "90.00" || first[11] != "540.00" {
		t.Fatalf("unexpected VAT figures: %v", first)
	}

	second := rows[2]
	if second[8] != "2026-02-10" {
		t.Fatalf("expected remediated date on second row, got %v", second)
	}

	totals := rows[3]
	if totals[0] != "TOTAL" || totals[9] != "570.50" || totals[10] != "114.10" || totals[11] != "684.60" {
		t.Fatalf("unexpected totals row: %v", totals)
	}
}

func TestBuildDefectScheduleXLSXEmpty(t *testing.T) {
	content, err := BuildDefectScheduleXLSX(nil, nil, nil)
	if err != nil {
		t.Fatalf("BuildDefectScheduleXLSX error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows error: %v", err)
	}
	// header + totals only
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "TOTAL" || rows[1][9] != "0.00" {
		t.Fatalf("unexpected totals row: %v", rows[1])
	}
}

func TestBuildMaintenanceLogCSV(t *testing.T) {
	defects, inspections, _ := scheduleFixture()

	content, err := BuildMaintenanceLogCSV(defects, inspections)
	if err != nil {
		t.Fatalf("BuildMaintenanceLogCSV error: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0][0] != "report_number" || records[0][8] != "remediation_cost" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	open := records[1]
	if open[0] != "INS-10" || open[5] != "Open" || open[6] != "" {
		t.Fatalf("open defect row wrong: %v", open)
	}
	done := records[2]
	if done[6] != "2026-02-10" || done[7] != "Panel replaced" || done[8] != "120.50" {
		t.Fatalf("remediated defect row wrong: %v", done)
	}
}
