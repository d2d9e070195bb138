package exports

import (
	"bytes"
	"context"
	"encoding/csv"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

// maintenanceLogFile builds the remediation history document. Insurers ask
// for this alongside the defect schedule to show findings were acted on.
func maintenanceLogFile(ctx context.Context, tenantId string, siteId *int) (*sealing.InputFile, error) {

	defects, err := models.DefectsForClaims(ctx, tenantId, siteId, nil, nil)
	if err != nil {
		return nil, err
	}
	inspections, err := models.CompletedInspectionsInRange(ctx, tenantId, siteId, nil, nil)
	if err != nil {
		return nil, err
	}
	inspectionsById := make(map[int]*models.Inspection, len(inspections))
	for _, insp := range inspections {
		inspectionsById[insp.ID] = insp
	}

	content, err := BuildMaintenanceLogCSV(defects, inspectionsById)
	if err != nil {
		return nil, err
	}

	return &sealing.InputFile{
		Path:        "maintenance_log.csv",
		Content:     content,
		ContentType: "text/csv",
	}, nil
}

// BuildMaintenanceLogCSV renders one row per defect with its remediation
// state. Open findings appear too; an empty remediated_at column is the
// honest answer, not a gap in the record.
func BuildMaintenanceLogCSV(defects []*models.Defect, inspectionsById map[int]*models.Inspection) ([]byte, error) {

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"report_number", "inspection_date", "equipment_item", "location", "risk_rating", "status", "remediated_at", "remediation_note", "remediation_cost"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, d := range defects {
		reportNumber := ""
		inspectionDate := ""
		if insp, ok := inspectionsById[d.InspectionId]; ok {
			reportNumber = insp.ReportNumber
			inspectionDate = utils.ConvertToLocalTime(insp.InspectionDate, reportTimezone).Format("2006-01-02")
		}
		remediatedAt := ""
		if d.RemediatedAt != nil {
			remediatedAt = utils.ConvertToLocalTime(*d.RemediatedAt, reportTimezone).Format("2006-01-02")
		}
		record := []string{
			reportNumber,
			inspectionDate,
			d.EquipmentItem,
			d.Location,
			string(d.RiskRating),
			string(d.Status),
			remediatedAt,
			d.RemediationNote,
			d.RemediationCost.StringFixed(2),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
