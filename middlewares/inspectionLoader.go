package middlewares

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type inspectionReader struct {
	db *gorm.DB
}

func (r *inspectionReader) getInspections(ctx context.Context, ids []int) []*dataloader.Result[*models.Inspection] {
	var results []models.Inspection
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Inspection](len(ids), err)
	}

	return generateLoaderResults(results, ids)
}

func GetInspection(ctx context.Context, id int) (*models.Inspection, error) {
	loaders := For(ctx)
	return loaders.inspectionLoader.Load(ctx, id)()
}

func GetInspections(ctx context.Context, ids []int) ([]*models.Inspection, []error) {
	loaders := For(ctx)
	return loaders.inspectionLoader.LoadMany(ctx, ids)()
}
