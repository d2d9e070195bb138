package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"gorm.io/gorm"
)

// Attachment is an evidence file (inspection photo, defect photo, PDF
// report) stored in the cloud bucket and referenced by a domain record.
type Attachment struct {
	ID            int            `gorm:"primary_key" json:"id"`
	TenantId      string         `gorm:"index;not null" json:"tenant_id"`
	Kind          AttachmentKind `gorm:"type:enum('Photo', 'Document');not null" json:"kind"`
	FileName      string         `gorm:"size:255;not null" json:"file_name"`
	ContentType   string         `gorm:"size:100" json:"content_type"`
	ByteSize      int64          `json:"byte_size"`
	ObjectKey     string         `gorm:"size:255;not null" json:"object_key"`
	FileUrl       string         `json:"file_url"`
	ThumbnailUrl  string         `json:"thumbnail_url"`
	ReferenceType string         `gorm:"size:50;index:idx_attachment_ref,priority:1" json:"reference_type"`
	ReferenceID   int            `gorm:"index:idx_attachment_ref,priority:2" json:"reference_id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type UploadResponse struct {
	ImageUrl     string `json:"image_url"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

func (obj Attachment) GetId() int {
	return obj.ID
}

// attachment's reference type
func validateReferenceType(ctx context.Context, tenantId string, referenceType string, referenceId int) error {
	db := config.GetDB()
	validReferenceTypes := map[string]bool{
		"inspections": true,
		"defects":     true,
		"sites":       true,
	}
	if ok := validReferenceTypes[referenceType]; !ok {
		return errors.New("invalid reference type")
	}

	// check if it exists
	var count int64
	if err := db.WithContext(ctx).Table(referenceType).Where("tenant_id = ? AND id = ?", tenantId, referenceId).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return utils.ErrorRecordNotFound
	}

	return nil
}

// CreateAttachmentFromKey records an object the client already uploaded
// through the signed-URL flow. The object must live under the tenant prefix.
func CreateAttachmentFromKey(ctx context.Context, kind AttachmentKind, fileName string, contentType string,
	objectKey string, thumbnailKey string, referenceType string, referenceId int) (*Attachment, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// validate if the reference exists
	if err := validateReferenceType(ctx, tenantId, referenceType, referenceId); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(objectKey, tenantId+"/") {
		return nil, errors.New("invalid object key")
	}

	// the object has to exist before the row does
	size, err := utils.ObjectSizeInGCS(ctx, objectKey)
	if err != nil {
		return nil, err
	}

	thumbnailUrl := ""
	if thumbnailKey != "" {
		thumbnailUrl = getCloudURL(thumbnailKey)
	}

	result := Attachment{
		TenantId:      tenantId,
		Kind:          kind,
		FileName:      fileName,
		ContentType:   contentType,
		ByteSize:      size,
		ObjectKey:     objectKey,
		FileUrl:       getCloudURL(objectKey),
		ThumbnailUrl:  thumbnailUrl,
		ReferenceType: referenceType,
		ReferenceID:   referenceId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&result).Error; err != nil {
		return nil, err
	}

	return &result, nil
}

// UploadAttachmentDocument stores a document received in the request body and
// records it in one round trip. Photos go through the signed-URL flow, which
// also produces thumbnails.
func UploadAttachmentDocument(ctx context.Context, fileName string, contentType string,
	fileContent io.Reader, referenceType string, referenceId int) (*Attachment, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	// validate if the reference exists
	if err := validateReferenceType(ctx, tenantId, referenceType, referenceId); err != nil {
		return nil, err
	}

	ext := filepath.Ext(fileName)
	if ext == "" {
		return nil, errors.New("file has no extension")
	}
	objectKey := path.Join(tenantId, referenceType, utils.GenerateUniqueFilename()+ext)

	// UploadFileToGCS sniffs the content and rejects disallowed types
	if err := utils.UploadFileToGCS(ctx, objectKey, fileContent); err != nil {
		return nil, fmt.Errorf("failed to upload file to storage provider: %v", err)
	}

	size, err := utils.ObjectSizeInGCS(ctx, objectKey)
	if err != nil {
		return nil, err
	}

	result := Attachment{
		TenantId:      tenantId,
		Kind:          AttachmentKindDocument,
		FileName:      fileName,
		ContentType:   contentType,
		ByteSize:      size,
		ObjectKey:     objectKey,
		FileUrl:       getCloudURL(objectKey),
		ReferenceType: referenceType,
		ReferenceID:   referenceId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&result).Error; err != nil {
		return nil, err
	}

	return &result, nil
}

func DeleteAttachment(ctx context.Context, id int) (*Attachment, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var result Attachment
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantId).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := result.Delete(db, ctx); err != nil {
		return nil, err
	}
	return &result, nil
}

// expected attachment is loaded from db
func (a *Attachment) Delete(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).Delete(&a).Error; err != nil {
		return err
	}
	// delete actual file
	if err := utils.DeleteObjectFromGCS(ctx, a.ObjectKey); err != nil {
		return err
	}
	if a.ThumbnailUrl != "" {
		if err := utils.DeleteObjectFromGCS(ctx, extractObjectName(a.ThumbnailUrl)); err != nil {
			return err
		}
	}
	return nil
}

func GetAttachment(ctx context.Context, id int) (*Attachment, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var result Attachment
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantId).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetAttachments(ctx context.Context, referenceType string, referenceId int) ([]*Attachment, error) {
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*Attachment
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND reference_type = ? AND reference_id = ?", tenantId, referenceType, referenceId).
		Order("created_at").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AttachmentsForInspections collects evidence files for a set of
// inspections, including files hanging off their defects. Export assembly
// uses this to decide what goes into a bundle.
func AttachmentsForInspections(ctx context.Context, tenantId string, inspectionIds []int) ([]*Attachment, error) {
	if len(inspectionIds) == 0 {
		return nil, nil
	}

	db := config.GetDB()
	var results []*Attachment

	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Where(
			db.Where("reference_type = ? AND reference_id IN ?", "inspections", inspectionIds).
				Or("reference_type = ? AND reference_id IN (?)", "defects",
					db.Model(&Defect{}).Select("id").Where("inspection_id IN ?", inspectionIds)),
		).
		Order("reference_type, reference_id, id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RemoveFile deletes an uploaded object that never got attached to a record.
func RemoveFile(ctx context.Context, fullUrl string) (*UploadResponse, error) {

	// only remove the object if not used in database
	var count int64
	db := config.GetDB()

	if err := db.Model(&Attachment{}).WithContext(ctx).Where("file_url = ?", fullUrl).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("cannot delete file associated with database")
	}

	// check if the object exists
	objectName := extractObjectName(fullUrl)
	if objectName == "" {
		return nil, errors.New("invalid url")
	}
	if ok, err := utils.ObjectExistsInGCS(ctx, objectName); !ok || err != nil {
		return nil, errors.New("object does not exist")
	}

	// delete from cloud
	if err := utils.DeleteObjectFromGCS(ctx, objectName); err != nil {
		return nil, err
	}

	return &UploadResponse{
		ImageUrl: fullUrl,
	}, nil
}

func getCloudURL(objectName string) string {
	return "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName
}

func extractObjectName(cloudUrl string) string {
	baseUrl := "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/"
	objectName, found := strings.CutPrefix(cloudUrl, baseUrl)
	if !found {
		return ""
	}
	return objectName
}
