package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/google/uuid"
)

// get AllModelMap for loader, redis or db
func MapAllModel[ModelT any, AllT Identifier](ctx context.Context) (map[int]*AllT, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// retrieve from redis
	key := utils.GetTypeName[AllT]() + "Map:" + tenantId

	var allMap map[int]*AllT

	if exists, err := config.GetRedisObject(key, &allMap); err != nil {
		return nil, err
	} else if !exists {
		// if the map has not been cached yet
		// fetch resources and construct the map, cache the result

		allMap = make(map[int]*AllT)
		var allSlice []*AllT
		db := config.GetDB()
		var m ModelT
		dbCtx := db.WithContext(ctx).Model(&m)
		dbCtx.Where("tenant_id = ?", tenantId)
		if err := dbCtx.Find(&allSlice).Error; err != nil {
			return nil, err
		}

		// fill the map
		for _, allModel := range allSlice {
			allMap[(*allModel).GetId()] = allModel
		}

		// store redis
		var duration time.Duration
		if err := config.SetRedisObject(key, &allMap, duration); err != nil {
			return nil, err
		}
	}

	return allMap, nil
}

// embedding struct will receive ID field, satisfy Identifier interface
type HasId struct {
	ID int `json:"id"`
}

func (h HasId) GetId() int {
	return h.ID
}

type HasUid struct {
	ID uuid.UUID `json:"id"`
}

func (h HasUid) GetId() uuid.UUID {
	return h.ID
}

type AllSite struct {
	HasId
	Name     string `json:"name"`
	Code     string `json:"code"`
	City     string `json:"city"`
	IsActive bool   `json:"is_active"`
}

type AllUser struct {
	HasId
	Name     string   `json:"name"`
	Role     UserRole `json:"role"`
	IsActive bool     `json:"is_active"`
}

type AllTenant struct {
	HasUid
	LogoUrl  string `json:"logo_url"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	Country  string `json:"country"`
	City     string `json:"city"`
}

func ListAllSite(ctx context.Context) ([]*AllSite, error) {
	return ListAllResource[Site, AllSite](ctx, "name")
}

func MapAllSite(ctx context.Context) (map[int]*AllSite, error) {
	return MapAllModel[Site, AllSite](ctx)
}

func ListAllUser(ctx context.Context) ([]*AllUser, error) {
	return ListAllResource[User, AllUser](ctx, "name")
}

func MapAllUser(ctx context.Context) (map[int]*AllUser, error) {
	return MapAllModel[User, AllUser](ctx)
}

func ListAllTenant(ctx context.Context) ([]*AllTenant, error) {
	return ListAllAdmin[Tenant, AllTenant](ctx)
}
