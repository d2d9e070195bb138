package utils

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/config"
)

// ModelChangeLocker is implemented by models that refuse edits after a
// lifecycle point (e.g. completed inspections backing sealed evidence).
type ModelChangeLocker interface {
	CheckChangeLock(context.Context) error
}

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch model from db
// (ctx's tenant_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, tenantId string, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	// preloading
	for _, field := range associations {
		dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}

// fetch model and refuse when the record is change-locked
func FetchModelForChange[T ModelChangeLocker](ctx context.Context, tenantId string, id int, associations ...string) (*T, error) {
	result, err := FetchModel[T](ctx, tenantId, id, associations...)
	if err != nil {
		return nil, err
	}
	if err := (*result).CheckChangeLock(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
