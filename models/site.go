package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

// Site is a playground or play area under a tenant's care.
type Site struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"index;not null" json:"tenant_id"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Code      string    `gorm:"size:20" json:"code"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	City      string    `gorm:"size:100"  json:"city"`
	Postcode  string    `gorm:"size:10" json:"postcode"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSite struct {
	Name     string `json:"name" binding:"required"`
	Code     string `json:"code"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
}

type SitesEdge Edge[Site]
type SitesConnection struct {
	PageInfo *PageInfo    `json:"pageInfo"`
	Edges    []*SitesEdge `json:"edges"`
}

// implements Node
func (s Site) GetCursor() string {
	return s.Name
}

// validate input for both create & update. (id = 0 for create)

func (input *NewSite) validate(ctx context.Context, tenantId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Site](ctx, tenantId, id); err != nil {
			return err
		}
	}
	// name
	if err := utils.ValidateUnique[Site](ctx, tenantId, "name", input.Name, id); err != nil {
		return err
	}
	// code
	if len(strings.TrimSpace(input.Code)) > 0 {
		if err := utils.ValidateUnique[Site](ctx, tenantId, "code", input.Code, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateSite(ctx context.Context, input *NewSite) (*Site, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	site := Site{
		TenantId: tenantId,
		Name:     input.Name,
		Code:     input.Code,
		Phone:    input.Phone,
		Address:  input.Address,
		City:     input.City,
		Postcode: input.Postcode,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&site).Error
	if err != nil {
		return nil, err
	}

	return &site, nil
}

func UpdateSite(ctx context.Context, id int, input *NewSite) (*Site, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	site, err := utils.FetchModel[Site](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&site).Updates(map[string]interface{}{
		"Name":     input.Name,
		"Code":     input.Code,
		"Phone":    input.Phone,
		"Address":  input.Address,
		"City":     input.City,
		"Postcode": input.Postcode,
	}).Error
	if err != nil {
		return nil, err
	}

	return site, nil
}

func DeleteSite(ctx context.Context, id int) (*Site, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	result, err := utils.FetchModel[Site](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// check if the site is used
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&Inspection{}).
		Where("site_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("site has inspections")
	}

	// db action
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetSite(ctx context.Context, id int) (*Site, error) {

	return GetResource[Site](ctx, id)
}

func GetSites(ctx context.Context, name *string) ([]*Site, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*Site

	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func PaginateSites(ctx context.Context, limit *int, after *string, name *string) (*SitesConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)

	if name != nil && *name != "" {
		dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}

	edges, pageInfo, err := FetchPagePureCursor[Site](dbCtx, *limit, after, "name", ">")
	if err != nil {
		return nil, err
	}
	var connection SitesConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		siteEdge := SitesEdge(edge)
		connection.Edges = append(connection.Edges, &siteEdge)
	}
	return &connection, err
}

func ToggleActiveSite(ctx context.Context, id int, isActive bool) (*Site, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return ToggleActiveModel[Site](ctx, tenantId, id, isActive)
}
