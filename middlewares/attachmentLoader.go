package middlewares

import (
	"context"

	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

// attachmentReader is instantiated once per reference type (inspections,
// defects, sites); the loader key is the referenced record id.
type attachmentReader struct {
	db            *gorm.DB
	referenceType string
}

func (r *attachmentReader) getAttachments(ctx context.Context, referenceIds []int) []*dataloader.Result[[]*models.Attachment] {
	var results []models.Attachment
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id IN ?", r.referenceType, referenceIds).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return handleError[[]*models.Attachment](len(referenceIds), err)
	}

	return generateLoaderArrayResults(results, referenceIds)
}

func GetInspectionAttachments(ctx context.Context, inspectionId int) ([]*models.Attachment, error) {
	loaders := For(ctx)
	return loaders.inspectionAttachmentLoader.Load(ctx, inspectionId)()
}

func GetDefectAttachments(ctx context.Context, defectId int) ([]*models.Attachment, error) {
	loaders := For(ctx)
	return loaders.defectAttachmentLoader.Load(ctx, defectId)()
}

func GetSiteAttachments(ctx context.Context, siteId int) ([]*models.Attachment, error) {
	loaders := For(ctx)
	return loaders.siteAttachmentLoader.Load(ctx, siteId)()
}
