package middlewares

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type defectReader struct {
	db *gorm.DB
}

// one inspection id -> all its defects, batched across the request
func (r *defectReader) getDefectsByInspection(ctx context.Context, inspectionIds []int) []*dataloader.Result[[]*models.Defect] {
	var results []models.Defect
	err := r.db.WithContext(ctx).
		Where("inspection_id IN ?", inspectionIds).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return handleError[[]*models.Defect](len(inspectionIds), err)
	}

	return generateLoaderArrayResults(results, inspectionIds)
}

func GetDefectsByInspection(ctx context.Context, inspectionId int) ([]*models.Defect, error) {
	loaders := For(ctx)
	return loaders.defectsByInspectionLoader.Load(ctx, inspectionId)()
}
