package models

import (
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"gorm.io/gorm"
)

// User writes arrive through two paths: tenant sessions carry the tenant id
// in the request context, while admin sessions and the seed tool operate
// outside any tenant scope. The scoped path goes through the context-aware
// history helpers; the unscoped path writes the history row directly with
// whatever tenant is recorded on the user row itself.

func (u *User) AfterCreate(tx *gorm.DB) (err error) {
	if tenantId, ok := utils.GetTenantIdFromContext(tx.Statement.Context); ok && tenantId != "" {
		if err := createHistory(tx, "REGISTER", u.ID, "users", nil, u, "created tenant user"); err != nil {
			return err
		}
		return u.RemoveAllRedis()
	}

	var history History
	history.TenantId = u.TenantId
	history.ActionType = "REGISTER"
	history.ReferenceID = u.ID
	history.ReferenceType = "users"
	history.Description = "created admin user"
	if u.Role != UserRoleAdmin {
		history.Description = "created tenant user"
	}

	// create history
	if err := tx.Create(&history).Error; err != nil {
		return err
	}

	// clearing cache
	if err := utils.ClearRedisAdmin[User](); err != nil {
		return err
	}

	return u.RemoveAllRedis()
}

func (u *User) BeforeUpdate(tx *gorm.DB) (err error) {
	if tenantId, ok := utils.GetTenantIdFromContext(tx.Statement.Context); ok && tenantId != "" {
		// creating history
		if err := SaveHistoryUpdate(tx, u.ID, u, "Updated User"); err != nil {
			return err
		}
	} else {
		var history History
		history.TenantId = u.TenantId
		history.ActionType = "UPDATE"
		history.ReferenceID = u.ID
		history.ReferenceType = "users"
		history.Description = "updated user"
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
	}

	// clearing cache
	if err := utils.ClearRedisAdmin[User](); err != nil {
		return err
	}
	if err := u.RemoveInstanceRedis(); err != nil {
		return err
	}

	return u.RemoveAllRedis()
}

func (u *User) AfterDelete(tx *gorm.DB) (err error) {
	if tenantId, ok := utils.GetTenantIdFromContext(tx.Statement.Context); ok && tenantId != "" {
		// creating history
		if err := SaveHistoryDelete(tx, u.ID, u, "Deleted User"); err != nil {
			return err
		}
	} else {
		var history History
		history.TenantId = u.TenantId
		history.ActionType = "DELETE"
		history.ReferenceID = u.ID
		history.ReferenceType = "users"
		history.Description = "deleted user"
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
	}

	// clearing cache
	if err := utils.ClearRedisAdmin[User](); err != nil {
		return err
	}
	if err := u.RemoveInstanceRedis(); err != nil {
		return err
	}

	return u.RemoveAllRedis()
}
