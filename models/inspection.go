package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/shopspring/decimal"
)

// Inspection is a visit record against a site. Draft inspections are
// editable; once completed they back sealed evidence and are locked.
type Inspection struct {
	ID             int              `gorm:"primary_key" json:"id"`
	TenantId       string           `gorm:"index;not null" json:"tenant_id"`
	SiteId         int              `gorm:"index;not null" json:"site_id" binding:"required"`
	InspectorId    int              `gorm:"index;not null" json:"inspector_id"`
	InspectorName  string           `gorm:"size:100" json:"inspector_name"`
	InspectionType InspectionType   `gorm:"type:enum('RoutineVisual', 'Operational', 'AnnualMain');not null" json:"inspection_type"`
	Status         InspectionStatus `gorm:"type:enum('Draft', 'Completed');default:Draft" json:"status"`
	InspectionDate time.Time        `gorm:"index;not null" json:"inspection_date" binding:"required"`
	CompletedAt    *time.Time       `json:"completed_at"`
	ReportNumber   string           `gorm:"size:255;not null" json:"report_number"`
	SequenceNo     decimal.Decimal  `gorm:"type:decimal(15);not null" json:"sequence_no"`
	RiskRating     RiskRating       `gorm:"type:enum('Low', 'Medium', 'High', 'Very High');default:null" json:"risk_rating"`
	Weather        string           `gorm:"size:100" json:"weather"`
	Summary        string           `gorm:"type:text" json:"summary"`
	Defects        []*Defect        `json:"defects"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInspection struct {
	SiteId         int            `json:"site_id" binding:"required"`
	InspectorId    int            `json:"inspector_id"`
	InspectionType InspectionType `json:"inspection_type" binding:"required"`
	InspectionDate time.Time      `json:"inspection_date" binding:"required"`
	RiskRating     RiskRating     `json:"risk_rating"`
	Weather        string         `json:"weather"`
	Summary        string         `json:"summary"`
}

type InspectionsEdge Edge[Inspection]

func (obj Inspection) GetId() int {
	return obj.ID
}

type InspectionsConnection struct {
	PageInfo *PageInfo          `json:"pageInfo"`
	Edges    []*InspectionsEdge `json:"edges"`
}

// implements Node
func (p Inspection) GetCursor() string {
	return p.InspectionDate.String()
}

func (i Inspection) IsCompleted() bool {
	return i.Status == InspectionStatusCompleted
}

// completed inspections back sealed exports, so they refuse edits
func (i Inspection) CheckChangeLock(ctx context.Context) error {
	if i.Status == InspectionStatusCompleted {
		return errors.New("completed inspection cannot be modified")
	}
	return nil
}

// validate input for both create & update. (id = 0 for create)
func (input *NewInspection) validate(ctx context.Context, tenantId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Inspection](ctx, tenantId, id); err != nil {
			return err
		}
	}

	// site must exist; inspector must exist and still be active
	tenantFilter := utils.Filter{Cond: "tenant_id = ?", Values: []interface{}{tenantId}}
	rules := []utils.ValidationRule[int]{
		{Model: Site{}, Ids: []int{input.SiteId}, Message: "site not found", Filter: tenantFilter},
	}
	if input.InspectorId > 0 {
		rules = append(rules, utils.ValidationRule[int]{
			Model: User{}, Ids: []int{input.InspectorId}, Message: "inspector not found",
			Filter: utils.Filter{Cond: "tenant_id = ? AND is_active = ?", Values: []interface{}{tenantId, true}},
		})
	}
	return utils.MassValidateResourceIds(ctx, rules)
}

func CreateInspection(ctx context.Context, input *NewInspection) (*Inspection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	inspectorId := input.InspectorId
	inspectorName := ""
	if inspectorId == 0 {
		// default to the calling user
		userId, ok := utils.GetUserIdFromContext(ctx)
		if !ok || userId == 0 {
			return nil, errors.New("inspector is required")
		}
		inspectorId = userId
	}
	inspector, err := utils.FetchModel[User](ctx, tenantId, inspectorId)
	if err != nil {
		return nil, errors.New("inspector not found")
	}
	inspectorName = inspector.Name

	inspection := Inspection{
		TenantId:       tenantId,
		SiteId:         input.SiteId,
		InspectorId:    inspectorId,
		InspectorName:  inspectorName,
		InspectionType: input.InspectionType,
		Status:         InspectionStatusDraft,
		InspectionDate: input.InspectionDate,
		RiskRating:     input.RiskRating,
		Weather:        input.Weather,
		Summary:        input.Summary,
	}

	db := config.GetDB()
	tx := db.Begin()

	seqNo, err := utils.GetSequence[Inspection](ctx, tenantId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	inspection.SequenceNo = decimal.NewFromInt(seqNo)
	inspection.ReportNumber = "INS-" + fmt.Sprint(seqNo)

	if err := tx.WithContext(ctx).Create(&inspection).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &inspection, nil
}

func UpdateInspection(ctx context.Context, id int, input *NewInspection) (*Inspection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// id exists & draft
	inspection, err := utils.FetchModelForChange[Inspection](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&inspection).Updates(map[string]interface{}{
		"SiteId":         input.SiteId,
		"InspectionType": input.InspectionType,
		"InspectionDate": input.InspectionDate,
		"RiskRating":     input.RiskRating,
		"Weather":        input.Weather,
		"Summary":        input.Summary,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*inspection); err != nil {
		return nil, err
	}

	return inspection, nil
}

// CompleteInspection moves a draft to Completed and stamps the time.
// A completed inspection is frozen and becomes sealable evidence.
func CompleteInspection(ctx context.Context, id int) (*Inspection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	inspection, err := utils.FetchModel[Inspection](ctx, tenantId, id, "Defects")
	if err != nil {
		return nil, err
	}
	if inspection.Status == InspectionStatusCompleted {
		return nil, errors.New("inspection is already completed")
	}
	if inspection.RiskRating == "" {
		return nil, errors.New("risk rating is required to complete an inspection")
	}
	// every finding needs a rating before sign-off
	for _, d := range inspection.Defects {
		if d.RiskRating == "" {
			return nil, errors.New("all defects need a risk rating before completion")
		}
	}

	now := time.Now().UTC()

	db := config.GetDB()
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(&inspection).UpdateColumns(map[string]interface{}{
		"Status":      InspectionStatusCompleted,
		"CompletedAt": now,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// create history without hook
	if err := createHistory(tx.WithContext(ctx), "*COMPLETED*", id, "inspections", nil, nil, "completed inspection "+inspection.ReportNumber); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := RemoveRedisBoth(*inspection); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	inspection.Status = InspectionStatusCompleted
	inspection.CompletedAt = &now
	return inspection, nil
}

func DeleteInspection(ctx context.Context, id int) (*Inspection, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	result, err := utils.FetchModelForChange[Inspection](ctx, tenantId, id, "Defects")
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	tx := db.Begin()

	if len(result.Defects) > 0 {
		if err := tx.WithContext(ctx).Where("inspection_id = ?", id).Delete(&Defect{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := RemoveRedisBoth(*result); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return result, nil
}

func GetInspection(ctx context.Context, id int) (*Inspection, error) {

	return GetResource[Inspection](ctx, id, "Defects")
}

func PaginateInspections(ctx context.Context, limit *int, after *string, siteId *int, status *InspectionStatus,
	inspectionType *InspectionType, fromDate *MyDateString, toDate *MyDateString) (*InspectionsConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)

	tenant, err := GetTenant(ctx)
	if err != nil {
		return nil, errors.New("tenant id is required")
	}
	if err := fromDate.StartOfDayUTCTime(tenant.Timezone); err != nil {
		return nil, err
	}
	if err := toDate.EndOfDayUTCTime(tenant.Timezone); err != nil {
		return nil, err
	}

	if siteId != nil && *siteId > 0 {
		dbCtx.Where("site_id = ?", *siteId)
	}
	if status != nil && *status != "" {
		dbCtx.Where("status = ?", *status)
	}
	if inspectionType != nil && *inspectionType != "" {
		dbCtx.Where("inspection_type = ?", *inspectionType)
	}
	if fromDate != nil && toDate != nil {
		dbCtx = dbCtx.Where("inspection_date BETWEEN ? AND ?", fromDate, toDate)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Inspection](dbCtx, *limit, after, "inspection_date", ">")
	if err != nil {
		return nil, err
	}
	var connection InspectionsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		inspectionsEdge := InspectionsEdge(edge)
		connection.Edges = append(connection.Edges, &inspectionsEdge)
	}

	return &connection, err
}

// CompletedInspectionsInRange lists sealed-eligible evidence for export
// assembly, oldest first so bundle contents read chronologically.
func CompletedInspectionsInRange(ctx context.Context, tenantId string, siteId *int, fromDate *time.Time, toDate *time.Time) ([]*Inspection, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ? AND status = ?", tenantId, InspectionStatusCompleted)
	if siteId != nil && *siteId > 0 {
		dbCtx = dbCtx.Where("site_id = ?", *siteId)
	}
	if fromDate != nil {
		dbCtx = dbCtx.Where("inspection_date >= ?", *fromDate)
	}
	if toDate != nil {
		dbCtx = dbCtx.Where("inspection_date <= ?", *toDate)
	}

	var results []*Inspection
	err := dbCtx.Preload("Defects").Order("inspection_date ASC, id ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
