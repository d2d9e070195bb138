package models

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"gorm.io/gorm"
)

// first login happens with this password, forced change is on the client
func CreateDefaultManager(tx *gorm.DB, ctx context.Context, tenantId string, email string, name string) (*User, error) {

	hashedPassword, err := utils.HashPassword("default123")
	if err != nil {
		return &User{}, err
	}

	manager := User{
		TenantId: tenantId,
		Username: email,
		Name:     name,
		Email:    &email,
		Password: string(hashedPassword),
		IsActive: utils.NewTrue(),
		Role:     UserRoleManager,
	}
	if err := tx.WithContext(ctx).Create(&manager).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return &manager, nil
}
