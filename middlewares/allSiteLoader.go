package middlewares

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type allSiteReader struct {
	db *gorm.DB
}

func (r *allSiteReader) getAllSites(ctx context.Context, ids []int) []*dataloader.Result[*models.AllSite] {
	resultMap, err := models.MapAllSite(ctx)
	if err != nil {
		return handleError[*models.AllSite](len(ids), err)
	}
	var loaderResults = make([]*dataloader.Result[*models.AllSite], 0, len(ids))
	for _, id := range ids {
		result, ok := resultMap[id]
		if !ok {
			var v models.AllSite
			v.ID = id
			result = &v
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.AllSite]{Data: result})
	}
	return loaderResults
}

func GetAllSite(ctx context.Context, id int) (*models.AllSite, error) {
	loaders := For(ctx)
	return loaders.allSiteLoader.Load(ctx, id)()
}

func GetAllSites(ctx context.Context, ids []int) ([]*models.AllSite, []error) {
	loaders := For(ctx)
	return loaders.allSiteLoader.LoadMany(ctx, ids)()
}
