package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant is a playground operator (council, school, leisure group). All
// operator records hang off a tenant; sealed export chains are per tenant.
type Tenant struct {
	ID               uuid.UUID `gorm:"primary_key" json:"id"`
	LogoUrl          string    `json:"logo_url"`
	Name             string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName      string    `gorm:"size:100" json:"contact_name"`
	Email            string    `gorm:"size:255" json:"email"`
	Phone            string    `gorm:"size:20" json:"phone"`
	Website          string    `gorm:"size:255" json:"website"`
	Address          string    `gorm:"type:text" json:"address"`
	Country          string    `gorm:"size:100" json:"country"`
	City             string    `gorm:"size:100" json:"city"`
	Timezone         string    `gorm:"size:50" json:"timezone"`
	OrganisationType string    `gorm:"size:50" json:"organisation_type"`
	CompanyNumber    string    `gorm:"size:100" json:"company_number"`
	// Seal event webhook delivery. The secret signs webhook bodies and is
	// never returned to clients.
	WebhookUrl    string    `gorm:"size:255" json:"webhook_url"`
	WebhookSecret string    `gorm:"size:255" json:"-"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTenant struct {
	LogoUrl          string `json:"logo_url"`
	Name             string `json:"name" binding:"required"`
	ContactName      string `json:"contact_name"`
	Email            string `json:"email" binding:"required"`
	Phone            string `json:"phone"`
	Website          string `json:"website"`
	Address          string `json:"address"`
	Country          string `json:"country"`
	City             string `json:"city"`
	Timezone         string `json:"timezone"`
	OrganisationType string `json:"organisation_type"`
	CompanyNumber    string `json:"company_number"`
}

type NewWebhookSetting struct {
	WebhookUrl    string `json:"webhook_url" binding:"required"`
	WebhookSecret string `json:"webhook_secret" binding:"required"`
}

func (tenant *Tenant) StoreRedis() error {
	return config.SetRedisObject("Tenant:"+fmt.Sprint(tenant.ID), tenant, 0)
}

func (tenant *Tenant) RemoveRedis() error {
	return config.RemoveRedisKey("Tenant:" + fmt.Sprint(tenant.ID))
}

func (input *NewTenant) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Tenant](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Tenant](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return err
		}
		if err := utils.ValidateUnique[Tenant](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
	}
	// website
	if input.Website != "" {
		if err := utils.ValidateUnique[Tenant](ctx, "", "website", input.Website, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateTenant(ctx context.Context, input *NewTenant) (*Tenant, error) {
	// only admin have access

	// When creating a tenant,
	// - create the 'Manager' user who owns the account.
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.Begin()

	TID := uuid.New()
	timezone := "Europe/London"
	if input.Timezone != "" {
		timezone = input.Timezone
	}
	country := input.Country
	if country == "" {
		country = "United Kingdom"
	}

	tenant := Tenant{
		ID:               TID,
		LogoUrl:          input.LogoUrl,
		Name:             input.Name,
		ContactName:      input.ContactName,
		Email:            input.Email,
		Phone:            input.Phone,
		Website:          input.Website,
		Address:          input.Address,
		Country:          country,
		City:             input.City,
		Timezone:         timezone,
		OrganisationType: input.OrganisationType,
		CompanyNumber:    input.CompanyNumber,
		IsActive:         utils.NewTrue(),
	}

	// create tenant
	err := tx.WithContext(ctx).Create(&tenant).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	tenantId := tenant.ID.String()
	ctx = utils.SetTenantIdInContext(ctx, tenantId)

	_, err = CreateDefaultManager(tx, ctx, tenantId, tenant.Email, tenant.Name)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.ClearRedisAdmin[Tenant](); err != nil {
		return nil, err
	}

	return &tenant, nil
}

func UpdateTenant(ctx context.Context, input *NewTenant) (*Tenant, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId); err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	var tenant Tenant
	if err := db.WithContext(ctx).Where("id = ?", tenantId).First(&tenant).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	err := db.WithContext(ctx).Model(&tenant).Updates(map[string]interface{}{
		"LogoUrl":          input.LogoUrl,
		"Name":             input.Name,
		"ContactName":      input.ContactName,
		"Email":            input.Email,
		"Phone":            input.Phone,
		"Website":          input.Website,
		"Address":          input.Address,
		"Country":          input.Country,
		"City":             input.City,
		"OrganisationType": input.OrganisationType,
		"CompanyNumber":    input.CompanyNumber,
	}).Error
	if err != nil {
		return nil, err
	}

	// caching
	if err := tenant.RemoveRedis(); err != nil {
		return nil, err
	}
	if err := utils.ClearRedisAdmin[Tenant](); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// UpdateWebhookSetting stores the endpoint the notifier delivers seal events
// to, plus the per-tenant secret used to sign delivery bodies.
func UpdateWebhookSetting(ctx context.Context, input *NewWebhookSetting) (*Tenant, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var tenant Tenant
	if err := db.WithContext(ctx).Where("id = ?", tenantId).First(&tenant).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	err := db.WithContext(ctx).Model(&tenant).Updates(map[string]interface{}{
		"WebhookUrl":    input.WebhookUrl,
		"WebhookSecret": input.WebhookSecret,
	}).Error
	if err != nil {
		return nil, err
	}

	// caching
	if err := tenant.RemoveRedis(); err != nil {
		return nil, err
	}
	return &tenant, nil
}

func ToggleActiveTenant(ctx context.Context, id uuid.UUID, isActive bool) (*Tenant, error) {

	db := config.GetDB()
	var result Tenant

	// check exists
	err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	// db action
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(&result).Updates(map[string]interface{}{
		"IsActive": isActive,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// toggling related users
	err = tx.WithContext(ctx).Model(&User{}).Where("tenant_id = ?", id).Updates(map[string]interface{}{
		"IsActive": isActive,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// caching
	if err := result.RemoveRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.ClearRedisAdmin[Tenant](); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &result, tx.Commit().Error
}

func GetTenantById(ctx context.Context, id string) (*Tenant, error) {

	var result Tenant

	exists, err := config.GetRedisObject("Tenant:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// GetTenantById2 is the transaction-scoped variant for workers that hold a tx.
func GetTenantById2(tx *gorm.DB, id string) (*Tenant, error) {

	var result Tenant

	exists, err := config.GetRedisObject("Tenant:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		// db query
		err := tx.Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetTenant(ctx context.Context) (*Tenant, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return GetTenantById(ctx, tenantId)
}

func GetTenants(ctx context.Context, name *string) ([]*Tenant, error) {

	db := config.GetDB()
	var results []*Tenant

	dbCtx := db.WithContext(ctx)
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
