package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/shopspring/decimal"
)

// Defect is a finding raised during an inspection. Identity fields freeze
// with the parent inspection; remediation keeps moving afterwards.
type Defect struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"index;not null" json:"tenant_id"`
	InspectionId    int             `gorm:"index;not null" json:"inspection_id" binding:"required"`
	EquipmentItem   string          `gorm:"size:255;not null" json:"equipment_item" binding:"required"`
	Description     string          `gorm:"type:text;not null" json:"description" binding:"required"`
	Location        string          `gorm:"size:255" json:"location"`
	RiskRating      RiskRating      `gorm:"type:enum('Low', 'Medium', 'High', 'Very High');default:null" json:"risk_rating"`
	Status          DefectStatus    `gorm:"type:enum('Open', 'Monitoring', 'Remediated');default:Open" json:"status"`
	RemediatedAt    *time.Time      `json:"remediated_at"`
	RemediationNote string          `gorm:"type:text" json:"remediation_note"`
	RemediationCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remediation_cost"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDefect struct {
	InspectionId  int        `json:"inspection_id" binding:"required"`
	EquipmentItem string     `json:"equipment_item" binding:"required"`
	Description   string     `json:"description" binding:"required"`
	Location      string     `json:"location"`
	RiskRating    RiskRating `json:"risk_rating"`
}

type DefectStatusInput struct {
	Status          DefectStatus     `json:"status" binding:"required"`
	RemediationNote string           `json:"remediation_note"`
	RemediationCost *decimal.Decimal `json:"remediation_cost"`
}

func (obj Defect) GetId() int {
	return obj.ID
}

// validate input for both create & update. (id = 0 for create)
func (input *NewDefect) validate(ctx context.Context, tenantId string, id int) (*Inspection, error) {
	if id > 0 {
		if err := utils.ValidateResourceId[Defect](ctx, tenantId, id); err != nil {
			return nil, err
		}
	}

	// parent must exist and still be a draft
	inspection, err := utils.FetchModelForChange[Inspection](ctx, tenantId, input.InspectionId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, errors.New("inspection not found")
		}
		return nil, err
	}
	return inspection, nil
}

func CreateDefect(ctx context.Context, input *NewDefect) (*Defect, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if _, err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	defect := Defect{
		TenantId:      tenantId,
		InspectionId:  input.InspectionId,
		EquipmentItem: input.EquipmentItem,
		Description:   input.Description,
		Location:      input.Location,
		RiskRating:    input.RiskRating,
		Status:        DefectStatusOpen,
	}

	// db action
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&defect).Error; err != nil {
		return nil, err
	}
	// parent carries the preloaded defect list
	if err := utils.RemoveRedisItem[Inspection](input.InspectionId); err != nil {
		return nil, err
	}

	return &defect, nil
}

func UpdateDefect(ctx context.Context, id int, input *NewDefect) (*Defect, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	defect, err := utils.FetchModel[Defect](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	input.InspectionId = defect.InspectionId
	if _, err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&defect).Updates(map[string]interface{}{
		"EquipmentItem": input.EquipmentItem,
		"Description":   input.Description,
		"Location":      input.Location,
		"RiskRating":    input.RiskRating,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*defect); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Inspection](defect.InspectionId); err != nil {
		return nil, err
	}

	return defect, nil
}

// UpdateDefectStatus drives the remediation workflow. Unlike the identity
// fields this stays open after the parent inspection completes.
func UpdateDefectStatus(ctx context.Context, id int, input *DefectStatusInput) (*Defect, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	defect, err := utils.FetchModel[Defect](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	if defect.Status == DefectStatusRemediated {
		return nil, errors.New("defect is already remediated")
	}

	updates := map[string]interface{}{
		"Status": input.Status,
	}
	if input.RemediationNote != "" {
		updates["RemediationNote"] = input.RemediationNote
	}
	if input.RemediationCost != nil {
		updates["RemediationCost"] = *input.RemediationCost
	}
	var remediatedAt *time.Time
	if input.Status == DefectStatusRemediated {
		now := time.Now().UTC()
		remediatedAt = &now
		updates["RemediatedAt"] = now
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(&defect).UpdateColumns(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// create history without hook; before/after stay null when the status did not move
	statusBefore := utils.NilOrElse(defect.Status == input.Status, string(defect.Status))
	statusAfter := utils.NilOrElse(defect.Status == input.Status, string(input.Status))
	if err := createHistory(tx.WithContext(ctx), "*STATUS*", id, "defects", statusBefore, statusAfter, "defect "+defect.EquipmentItem+" -> "+string(input.Status)); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := RemoveRedisBoth(*defect); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Inspection](defect.InspectionId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	defect.Status = input.Status
	defect.RemediatedAt = remediatedAt
	return defect, nil
}

func DeleteDefect(ctx context.Context, id int) (*Defect, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	result, err := utils.FetchModel[Defect](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// parent must still be a draft
	inspection, err := utils.FetchModel[Inspection](ctx, tenantId, result.InspectionId)
	if err != nil {
		return nil, err
	}
	if err := inspection.CheckChangeLock(ctx); err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&result).Error; err != nil {
		return nil, err
	}
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Inspection](result.InspectionId); err != nil {
		return nil, err
	}

	return result, nil
}

func GetDefect(ctx context.Context, id int) (*Defect, error) {

	return GetResource[Defect](ctx, id)
}

func GetDefects(ctx context.Context, inspectionId *int, status *DefectStatus) ([]*Defect, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*Defect

	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if inspectionId != nil && *inspectionId > 0 {
		dbCtx = dbCtx.Where("inspection_id = ?", *inspectionId)
	}
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	// db query
	err := dbCtx.Order("created_at").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DefectsForClaims lists a tenant's findings across completed inspections,
// highest risk first, for the claims pack schedule.
func DefectsForClaims(ctx context.Context, tenantId string, siteId *int, fromDate *time.Time, toDate *time.Time) ([]*Defect, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Joins("JOIN inspections ON inspections.id = defects.inspection_id").
		Where("defects.tenant_id = ? AND inspections.status = ?", tenantId, InspectionStatusCompleted)
	if siteId != nil && *siteId > 0 {
		dbCtx = dbCtx.Where("inspections.site_id = ?", *siteId)
	}
	if fromDate != nil {
		dbCtx = dbCtx.Where("inspections.inspection_date >= ?", *fromDate)
	}
	if toDate != nil {
		dbCtx = dbCtx.Where("inspections.inspection_date <= ?", *toDate)
	}

	var results []*Defect
	err := dbCtx.
		Order("FIELD(defects.risk_rating, 'Very High', 'High', 'Medium', 'Low'), defects.created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
