package middlewares

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type siteReader struct {
	db *gorm.DB
}

func (r *siteReader) getSites(ctx context.Context, ids []int) []*dataloader.Result[*models.Site] {
	var results []models.Site
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Site](len(ids), err)
	}

	return generateLoaderResults(results, ids)
}

func GetSite(ctx context.Context, id int) (*models.Site, error) {
	loaders := For(ctx)
	return loaders.siteLoader.Load(ctx, id)()
}

func GetSites(ctx context.Context, ids []int) ([]*models.Site, []error) {
	loaders := For(ctx)
	return loaders.siteLoader.LoadMany(ctx, ids)()
}
