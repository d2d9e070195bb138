package exports

import (
	"context"
	"fmt"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exported documents carry operator-local dates, not UTC.
const reportTimezone = "Europe/London"

// defectScheduleFile builds the claims schedule from the tenant's completed
// inspections, optionally scoped to one site.
func defectScheduleFile(ctx context.Context, tenantId string, siteId *int) (*sealing.InputFile, error) {

	defects, err := models.DefectsForClaims(ctx, tenantId, siteId, nil, nil)
	if err != nil {
		return nil, err
	}
	inspections, err := models.CompletedInspectionsInRange(ctx, tenantId, siteId, nil, nil)
	if err != nil {
		return nil, err
	}
	inspectionsById := make(map[int]*models.Inspection, len(inspections))
	siteIds := make([]int, 0, len(inspections))
	seenSites := make(map[int]bool)
	for _, insp := range inspections {
		inspectionsById[insp.ID] = insp
		if !seenSites[insp.SiteId] {
			seenSites[insp.SiteId] = true
			siteIds = append(siteIds, insp.SiteId)
		}
	}

	siteNames := make(map[int]string, len(siteIds))
	for _, id := range siteIds {
		site, err := utils.FetchModel[models.Site](ctx, tenantId, id)
		if err != nil {
			continue
		}
		siteNames[id] = site.Name
	}

	content, err := BuildDefectScheduleXLSX(defects, inspectionsById, siteNames)
	if err != nil {
		return nil, err
	}

	return &sealing.InputFile{
		Path:        "defect_schedule.xlsx",
		Content:     content,
		ContentType: xlsxContentType,
	}, nil
}

// BuildDefectScheduleXLSX renders the defect schedule spreadsheet. Rows come
// in the order the ledger query returned them (highest risk first); a totals
// row closes the sheet with net, VAT and gross remediation figures.
func BuildDefectScheduleXLSX(defects []*models.Defect, inspectionsById map[int]*models.Inspection, siteNames map[int]string) ([]byte, error) {

	f := excelize.NewFile()
	_, err := f.NewSheet("Sheet1")
	if err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue("Sheet1", "A1", "ReportNumber")
	f.SetCellValue("Sheet1", "B1", "Site")
	f.SetCellValue("Sheet1", "C1", "InspectionDate")
	f.SetCellValue("Sheet1", "D1", "EquipmentItem")
	f.SetCellValue("Sheet1", "E1", "Description")
	f.SetCellValue("Sheet1", "F1", "Location")
	f.SetCellValue("Sheet1", "G1", "RiskRating")
	f.SetCellValue("Sheet1", "H1", "Status")
	f.SetCellValue("Sheet1", "I1", "RemediatedAt")
	f.SetCellValue("Sheet1", "J1", "CostNet")
	f.SetCellValue("Sheet1", "K1", "VAT")
	f.SetCellValue("Sheet1", "L1", "CostGross")

	totalNet := decimal.Zero

	// Add data
	for i, d := range defects {
		row := fmt.Sprint(i + 2)
		reportNumber := ""
		siteName := ""
		inspectionDate := ""
		if insp, ok := inspectionsById[d.InspectionId]; ok {
			reportNumber = insp.ReportNumber
			inspectionDate = utils.ConvertToLocalTime(insp.InspectionDate, reportTimezone).Format("2006-01-02")
			siteName = siteNames[insp.SiteId]
		}
		remediatedAt := ""
		if d.RemediatedAt != nil {
			remediatedAt = utils.ConvertToLocalTime(*d.RemediatedAt, reportTimezone).Format("2006-01-02")
		}

		vat := utils.CalculateVATAmount(d.RemediationCost, utils.StandardVATRate)
		gross := utils.GrossFromNet(d.RemediationCost, utils.StandardVATRate)
		totalNet = totalNet.Add(d.RemediationCost)

		f.SetCellValue("Sheet1", "A"+row, reportNumber)
		f.SetCellValue("Sheet1", "B"+row, siteName)
		f.SetCellValue("Sheet1", "C"+row, inspectionDate)
		f.SetCellValue("Sheet1", "D"+row, d.EquipmentItem)
		f.SetCellValue("Sheet1", "E"+row, d.Description)
		f.SetCellValue("Sheet1", "F"+row, d.Location)
		f.SetCellValue("Sheet1", "G"+row, string(d.RiskRating))
		f.SetCellValue("Sheet1", "H"+row, string(d.Status))
		f.SetCellValue("Sheet1", "I"+row, remediatedAt)
		f.SetCellValue("Sheet1", "J"+row, d.RemediationCost.StringFixed(2))
		f.SetCellValue("Sheet1", "K"+row, vat.StringFixed(2))
		f.SetCellValue("Sheet1", "L"+row, gross.StringFixed(2))
	}

	// Totals row
	totalRow := fmt.Sprint(len(defects) + 2)
	f.SetCellValue("Sheet1", "A"+totalRow, "TOTAL")
	f.SetCellValue("Sheet1", "J"+totalRow, totalNet.StringFixed(2))
	f.SetCellValue("Sheet1", "K"+totalRow, utils.CalculateVATAmount(totalNet, utils.StandardVATRate).StringFixed(2))
	f.SetCellValue("Sheet1", "L"+totalRow, utils.GrossFromNet(totalNet, utils.StandardVATRate).StringFixed(2))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
