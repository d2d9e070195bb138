package main

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/middlewares"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/models/exports"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"bitbucket.org/safeplayhq/inspect_backend/workflow"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// resolveTenantID returns the tenant the request acts on. Regular users are
// pinned to their own tenant; platform admins may name one via ?tenant_id=.
func resolveTenantID(c *gin.Context) (string, error) {
	ctx := c.Request.Context()
	if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok && tenantId != "" {
		return tenantId, nil
	}
	if isAdmin, ok := utils.GetIsAdminFromContext(ctx); ok && isAdmin {
		tenantId := strings.TrimSpace(c.Query("tenant_id"))
		if tenantId == "" {
			return "", errors.New("tenant_id is required")
		}
		return tenantId, nil
	}
	return "", errors.New("unauthorized")
}

type inlineFileInput struct {
	Path          string `json:"path"`
	ContentBase64 string `json:"contentBase64"`
	ContentType   string `json:"contentType"`
}

type sealExportRequest struct {
	ExportType string            `json:"export_type"`
	SourceId   *int              `json:"source_id"`
	Files      []inlineFileInput `json:"files"`
}

func sealExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req sealExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		exportType, err := models.ParseExportType(req.ExportType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		inline := make([]sealing.InputFile, 0, len(req.Files))
		for _, f := range req.Files {
			if strings.TrimSpace(f.Path) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file path is required"})
				return
			}
			content, err := base64.StdEncoding.DecodeString(f.ContentBase64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contentBase64 for " + f.Path})
				return
			}
			inline = append(inline, sealing.InputFile{
				Path:        f.Path,
				Content:     content,
				ContentType: f.ContentType,
			})
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		userId, _ := utils.GetUserIdFromContext(ctx)
		userName, _ := utils.GetUserNameFromContext(ctx)

		files, err := exports.AssembleForSeal(ctx, tenantId, exportType, req.SourceId, inline)
		if err != nil {
			if errors.Is(err, exports.ErrInspectionNotCompleted) || errors.Is(err, sealing.ErrNoFiles) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "source inspection not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		row, err := workflow.SealExport(ctx, logger, workflow.SealInput{
			TenantId:   tenantId,
			ExportType: exportType,
			SourceId:   req.SourceId,
			Files:      files,
			GeneratedBy: sealing.GeneratedBy{
				UserID:      userId,
				DisplayName: userName,
			},
		})
		if err != nil {
			switch {
			case errors.Is(err, sealing.ErrNoFiles), errors.Is(err, workflow.ErrUnknownExportType):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, models.ErrChainConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "concurrent seal on this tenant; retry"})
			case errors.Is(err, workflow.ErrSigningKeyUnavailable):
				config.LogError(logger, "exportsApi.go", "sealExportHandler", "Loading signing key", tenantId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "signing key unavailable"})
			default:
				config.LogError(logger, "exportsApi.go", "sealExportHandler", "Sealing export", tenantId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusCreated, gin.H{
			"export":         row,
			"verify_url":     utils.BuildVerifyURL(row.BundleId),
			"correlation_id": cid,
		})
	}
}

// exportListItem is one ledger row expanded with attribution and source
// context. Expansion goes through the request-scoped dataloaders so a page
// of rows costs one query per relation; attribution and site use the cached
// picker projections rather than the full records.
type exportListItem struct {
	*models.SealedExport
	GeneratedBy      *models.AllUser    `json:"generated_by,omitempty"`
	SourceInspection *models.Inspection `json:"source_inspection,omitempty"`
	Site             *models.AllSite    `json:"site,omitempty"`
}

func expandExportRow(c *gin.Context, row *models.SealedExport) exportListItem {
	ctx := c.Request.Context()
	item := exportListItem{SealedExport: row}
	if row.GeneratedById > 0 {
		if user, err := middlewares.GetAllUser(ctx, row.GeneratedById); err == nil {
			item.GeneratedBy = user
		}
	}
	if sourceId := utils.DereferencePtr(row.SourceId); sourceId > 0 {
		if inspection, err := middlewares.GetInspection(ctx, sourceId); err == nil {
			item.SourceInspection = inspection
			if site, err := middlewares.GetAllSite(ctx, inspection.SiteId); err == nil {
				item.Site = site
			}
		}
	}
	return item
}

func listExportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := strings.TrimSpace(c.Query("after")); v != "" {
			after = &v
		}
		var exportType *models.ExportType
		if v := strings.TrimSpace(c.Query("export_type")); v != "" {
			parsed, err := models.ParseExportType(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			exportType = &parsed
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		conn, err := models.PaginateSealedExports(ctx, limit, after, exportType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		edges := make([]gin.H, 0, len(conn.Edges))
		for _, edge := range conn.Edges {
			edges = append(edges, gin.H{
				"node":   expandExportRow(c, edge.Node),
				"cursor": edge.Cursor,
			})
		}
		c.JSON(http.StatusOK, gin.H{"edges": edges, "pageInfo": conn.PageInfo})
	}
}

func getExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		bundleId := strings.TrimSpace(c.Param("bundleId"))
		if bundleId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bundleId is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		row, err := models.GetSealedExport(ctx, bundleId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{
			"export":     expandExportRow(c, row),
			"verify_url": utils.BuildVerifyURL(row.BundleId),
		}
		if !row.IsTombstoned() {
			if signed, err := utils.SignDownload(ctx, row.StorageKey, 15*time.Minute); err == nil {
				resp["download_url"] = signed.DownloadURL
				resp["download_expires_at"] = signed.ExpiresAt.UTC().Format(time.RFC3339)
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func exportOutboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		bundleId := strings.TrimSpace(c.Param("bundleId"))
		if bundleId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bundleId is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		status, err := models.GetOutboxStatus(ctx, bundleId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func chainStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		status, err := workflow.GetChainStatus(ctx, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// verifyExportHandler is the public audit endpoint. Anyone holding a bundle
// id (printed on exported reports) can confirm the archive still matches
// what was sealed. No tenant scoping: the bundle id is the capability.
func verifyExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		bundleId := strings.TrimSpace(c.Param("bundleId"))
		if bundleId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bundleId is required"})
			return
		}

		ctx := c.Request.Context()
		row, err := models.GetSealedExportByBundleId(ctx, bundleId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown bundle id"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if row.IsTombstoned() {
			c.JSON(http.StatusGone, gin.H{
				"bundle_id":     row.BundleId,
				"tombstoned":    true,
				"tombstoned_at": row.TombstonedAt,
				"detail":        "archive removed on legal request; ledger entry retained",
			})
			return
		}

		ring, err := config.GetSealKeyRing()
		if err != nil {
			config.LogError(logger, "exportsApi.go", "verifyExportHandler", "Loading key ring", bundleId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification keys unavailable"})
			return
		}

		archive, err := utils.DownloadBytesFromGCS(ctx, row.StorageKey)
		if err != nil {
			config.LogError(logger, "exportsApi.go", "verifyExportHandler", "Downloading archive", row.StorageKey, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "archive unavailable"})
			return
		}

		result := sealing.VerifyArchive(archive, ring)
		if db := config.GetDB(); db != nil {
			result = workflow.VerifyBundleChain(ctx, db, row, result)
		}

		resp := gin.H{
			"bundle_id":  row.BundleId,
			"valid":      result.Valid,
			"reason":     result.Reason,
			"checked_at": time.Now().UTC().Format(time.RFC3339),
			"manifest":   result.Manifest,
		}
		if result.Detail != "" {
			resp["detail"] = result.Detail
		}
		c.JSON(http.StatusOK, resp)
	}
}
