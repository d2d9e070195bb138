package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

// Assembles the file list for a seal request. Callers hand the result to the
// sealing workflow untouched; nothing here hashes or signs anything.

var ErrInspectionNotCompleted = errors.New("inspection must be completed before sealing")

// AssembleForSeal resolves a seal request into concrete in-memory files.
// When a source inspection is given its stored evidence is pulled from the
// bucket; generated documents (defect schedule, maintenance log) are built
// fresh from the ledger tables. Inline files the caller supplied come last.
func AssembleForSeal(ctx context.Context, tenantId string, exportType models.ExportType, sourceId *int, inline []sealing.InputFile) ([]sealing.InputFile, error) {

	files := make([]sealing.InputFile, 0, len(inline)+4)

	var inspection *models.Inspection
	var site *models.Site
	if sourceId != nil && *sourceId > 0 {
		var err error
		inspection, err = utils.FetchModel[models.Inspection](ctx, tenantId, *sourceId, "Defects")
		if err != nil {
			return nil, errors.New("source inspection not found")
		}
		if !inspection.IsCompleted() {
			return nil, ErrInspectionNotCompleted
		}
		site, err = utils.FetchModel[models.Site](ctx, tenantId, inspection.SiteId)
		if err != nil {
			return nil, errors.New("inspection site not found")
		}
	}

	switch exportType {
	case models.ExportTypeInspectionReport:
		if inspection != nil {
			reportFiles, err := inspectionReportFiles(ctx, tenantId, inspection, site)
			if err != nil {
				return nil, err
			}
			files = append(files, reportFiles...)
		}

	case models.ExportTypeClaimsPack:
		if inspection != nil {
			reportFiles, err := inspectionReportFiles(ctx, tenantId, inspection, site)
			if err != nil {
				return nil, err
			}
			files = append(files, reportFiles...)
		}
		scheduleFile, err := defectScheduleFile(ctx, tenantId, siteScope(inspection))
		if err != nil {
			return nil, err
		}
		files = append(files, *scheduleFile)

	case models.ExportTypeMaintenanceLog:
		logFile, err := maintenanceLogFile(ctx, tenantId, siteScope(inspection))
		if err != nil {
			return nil, err
		}
		files = append(files, *logFile)

	default:
		return nil, fmt.Errorf("unknown export type %q", exportType)
	}

	files = append(files, inline...)
	return files, nil
}

func siteScope(inspection *models.Inspection) *int {
	if inspection == nil {
		return nil
	}
	return &inspection.SiteId
}

type reportSite struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
}

type reportDefect struct {
	EquipmentItem   string     `json:"equipment_item"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	RiskRating      string     `json:"risk_rating"`
	Status          string     `json:"status"`
	RemediatedAt    *time.Time `json:"remediated_at"`
	RemediationNote string     `json:"remediation_note,omitempty"`
}

type inspectionReport struct {
	ReportNumber   string         `json:"report_number"`
	Site           reportSite     `json:"site"`
	InspectorName  string         `json:"inspector_name"`
	InspectionType string         `json:"inspection_type"`
	InspectionDate time.Time      `json:"inspection_date"`
	CompletedAt    *time.Time     `json:"completed_at"`
	RiskRating     string         `json:"risk_rating"`
	Weather        string         `json:"weather,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Defects        []reportDefect `json:"defects"`
}

// inspectionReportFiles renders the report document plus every stored
// evidence file for the inspection (and its defects). Attachment paths are
// id-prefixed so two photos named image.jpg never collide inside a bundle.
func inspectionReportFiles(ctx context.Context, tenantId string, inspection *models.Inspection, site *models.Site) ([]sealing.InputFile, error) {

	report := inspectionReport{
		ReportNumber: inspection.ReportNumber,
		Site: reportSite{
			Name:     site.Name,
			Code:     site.Code,
			Address:  site.Address,
			City:     site.City,
			Postcode: site.Postcode,
		},
		InspectorName:  inspection.InspectorName,
		InspectionType: string(inspection.InspectionType),
		InspectionDate: inspection.InspectionDate,
		CompletedAt:    inspection.CompletedAt,
		RiskRating:     string(inspection.RiskRating),
		Weather:        inspection.Weather,
		Summary:        inspection.Summary,
		Defects:        make([]reportDefect, 0, len(inspection.Defects)),
	}
	for _, d := range inspection.Defects {
		report.Defects = append(report.Defects, reportDefect{
			EquipmentItem:   d.EquipmentItem,
			Description:     d.Description,
			Location:        d.Location,
			RiskRating:      string(d.RiskRating),
			Status:          string(d.Status),
			RemediatedAt:    d.RemediatedAt,
			RemediationNote: d.RemediationNote,
		})
	}

	reportBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}

	files := []sealing.InputFile{
		{
			Path:        "report.json",
			Content:     reportBytes,
			ContentType: "application/json",
		},
	}

	attachments, err := models.AttachmentsForInspections(ctx, tenantId, []int{inspection.ID})
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		content, err := utils.DownloadBytesFromGCS(ctx, a.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("fetching attachment %d (%s): %w", a.ID, a.FileName, err)
		}
		files = append(files, sealing.InputFile{
			Path:        fmt.Sprintf("attachments/%d_%s", a.ID, a.FileName),
			Content:     content,
			ContentType: a.ContentType,
		})
	}

	return files, nil
}
