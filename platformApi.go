package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/middlewares"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type signinRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func signinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func signoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func requireAdmin(c *gin.Context) error {
	if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); ok && isAdmin {
		return nil
	}
	return errors.New("unauthorized")
}

// requireTenant rejects requests that carry no tenant scope. Admin sessions
// have none; tenant CRUD always acts on the session user's own tenant.
func requireTenant(c *gin.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
	if !ok || tenantId == "" {
		return "", errors.New("unauthorized")
	}
	return tenantId, nil
}

func pathID(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func optionalQuery(c *gin.Context, name string) *string {
	if v := strings.TrimSpace(c.Query(name)); v != "" {
		return &v
	}
	return nil
}

func optionalIntQuery(c *gin.Context, name string) *int {
	if v := strings.TrimSpace(c.Query(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

// parseDateQuery accepts the short form used by the web client and the full
// datetime form used elsewhere in payloads. Full datetimes are operator-local
// and get normalized to UTC (Europe/London unless ?timezone= says otherwise).
func parseDateQuery(c *gin.Context, name string) (*models.MyDateString, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		t, err = models.ParseDateString(v, c.Query("timezone"))
		if err != nil {
			return nil, errors.New("invalid " + name + " date")
		}
	}
	d := models.MyDateString(t)
	return &d, nil
}

// --- tenants (platform admin) ---

func getTenantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		tenant, err := models.GetTenant(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, tenant)
	}
}

func updateWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewWebhookSetting
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		tenant, err := models.UpdateWebhookSetting(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tenant)
	}
}

func listTenantsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := requireAdmin(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		// ?all=true serves the console dropdown projection
		if c.Query("all") == "true" {
			tenants, err := models.ListAllTenant(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": tenants})
			return
		}
		tenants, err := models.GetTenants(c.Request.Context(), optionalQuery(c, "name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": tenants})
	}
}

func createTenantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := requireAdmin(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewTenant
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		tenant, err := models.CreateTenant(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, tenant)
	}
}

func updateTenantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := requireAdmin(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id := strings.TrimSpace(c.Param("id"))
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
			return
		}
		var input models.NewTenant
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), id)
		tenant, err := models.UpdateTenant(ctx, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tenant)
	}
}

type toggleActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleTenantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := requireAdmin(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
			return
		}
		var req toggleActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
			return
		}
		tenant, err := models.ToggleActiveTenant(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tenant)
	}
}

// --- sites ---

func listSitesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		// ?all=true serves the cached name/code projection for pickers
		if c.Query("all") == "true" {
			sites, err := models.ListAllSite(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": sites})
			return
		}
		// limit/after switch to cursor pages, name-ordered
		if c.Query("limit") != "" || c.Query("after") != "" {
			limit := 20
			if v := strings.TrimSpace(c.Query("limit")); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
					limit = n
				}
			}
			conn, err := models.PaginateSites(c.Request.Context(), &limit, optionalQuery(c, "after"), optionalQuery(c, "name"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, conn)
			return
		}
		sites, err := models.GetSites(c.Request.Context(), optionalQuery(c, "name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": sites})
	}
}

func createSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewSite
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		site, err := models.CreateSite(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, site)
	}
}

// siteDetail bundles the site with its certificate and plan attachments.
type siteDetail struct {
	*models.Site
	Attachments []*models.Attachment `json:"attachments"`
}

func getSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		site, err := models.GetSite(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		detail := siteDetail{Site: site}
		if attachments, err := middlewares.GetSiteAttachments(ctx, site.ID); err == nil {
			detail.Attachments = attachments
		}
		c.JSON(http.StatusOK, detail)
	}
}

func updateSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewSite
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		site, err := models.UpdateSite(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

func deleteSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		site, err := models.DeleteSite(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

func toggleSiteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var req toggleActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
			return
		}
		site, err := models.ToggleActiveSite(c.Request.Context(), id, *req.IsActive)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, site)
	}
}

// --- inspections ---

func listInspectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		after := optionalQuery(c, "after")
		siteId := optionalIntQuery(c, "site_id")

		var status *models.InspectionStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.InspectionStatus(v)
			status = &s
		}
		var inspectionType *models.InspectionType
		if v := strings.TrimSpace(c.Query("inspection_type")); v != "" {
			t := models.InspectionType(v)
			inspectionType = &t
		}
		fromDate, err := parseDateQuery(c, "from")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		toDate, err := parseDateQuery(c, "to")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn, err := models.PaginateInspections(c.Request.Context(), &limit, after, siteId, status, inspectionType, fromDate, toDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func createInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewInspection
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		inspection, err := models.CreateInspection(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, inspection)
	}
}

// inspectionDetail bundles the inspection with its loader-batched relations.
type inspectionDetail struct {
	*models.Inspection
	Site        *models.Site         `json:"site,omitempty"`
	Inspector   *models.User         `json:"inspector,omitempty"`
	Defects     []*models.Defect     `json:"defects"`
	Attachments []*models.Attachment `json:"attachments"`
}

func getInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		inspection, err := models.GetInspection(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		detail := inspectionDetail{Inspection: inspection}
		if site, err := middlewares.GetSite(ctx, inspection.SiteId); err == nil {
			detail.Site = site
		}
		if inspection.InspectorId > 0 {
			if user, err := middlewares.GetUser(ctx, inspection.InspectorId); err == nil {
				detail.Inspector = user
			}
		}
		if defects, err := middlewares.GetDefectsByInspection(ctx, inspection.ID); err == nil {
			detail.Defects = defects
		}
		if attachments, err := middlewares.GetInspectionAttachments(ctx, inspection.ID); err == nil {
			detail.Attachments = attachments
		}
		c.JSON(http.StatusOK, detail)
	}
}

func updateInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewInspection
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		inspection, err := models.UpdateInspection(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inspection)
	}
}

func completeInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inspection, err := models.CompleteInspection(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inspection)
	}
}

func deleteInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inspection, err := models.DeleteInspection(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, inspection)
	}
}

// --- defects ---

func listDefectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var status *models.DefectStatus
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			s := models.DefectStatus(v)
			status = &s
		}
		defects, err := models.GetDefects(c.Request.Context(), optionalIntQuery(c, "inspection_id"), status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": defects})
	}
}

func createDefectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewDefect
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		defect, err := models.CreateDefect(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, defect)
	}
}

// defectDetail bundles the defect with its photo evidence.
type defectDetail struct {
	*models.Defect
	Attachments []*models.Attachment `json:"attachments"`
}

func getDefectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		defect, err := models.GetDefect(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		detail := defectDetail{Defect: defect}
		if attachments, err := middlewares.GetDefectAttachments(ctx, defect.ID); err == nil {
			detail.Attachments = attachments
		}
		c.JSON(http.StatusOK, detail)
	}
}

func updateDefectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.NewDefect
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		defect, err := models.UpdateDefect(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, defect)
	}
}

func updateDefectStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.DefectStatusInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		defect, err := models.UpdateDefectStatus(c.Request.Context(), id, &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, defect)
	}
}

func deleteDefectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defect, err := models.DeleteDefect(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, defect)
	}
}

// --- users ---

func listUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, tenantErr := requireTenant(c)
		if tenantErr != nil {
			if err := requireAdmin(c); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		// ?all=true serves the cached picker projection, tenant sessions only
		if tenantId != "" && c.Query("all") == "true" {
			users, err := models.ListAllUser(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": users})
			return
		}
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": users})
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		// Non-admin callers can only create users inside their own tenant.
		if tenantId, err := requireTenant(c); err == nil {
			input.TenantId = tenantId
		} else if err := requireAdmin(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if input.TenantId == "" && input.Role != models.UserRoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func updateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			if err := requireAdmin(c); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.User
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		user, err := input.UpdateUser(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func deleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			if err := requireAdmin(c); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var input models.User
		user, err := input.DeleteUser(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "old_password and new_password are required"})
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// --- attachments ---

func listAttachmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		referenceType := strings.TrimSpace(c.Query("reference_type"))
		referenceId := optionalIntQuery(c, "reference_id")
		if referenceType == "" || referenceId == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_type and reference_id are required"})
			return
		}
		attachments, err := models.GetAttachments(c.Request.Context(), referenceType, *referenceId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": attachments})
	}
}

func deleteAttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := pathID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		attachment, err := models.DeleteAttachment(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, attachment)
	}
}

// --- histories ---

func listHistoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := requireTenant(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		conn, err := models.PaginateHistory(
			c.Request.Context(),
			&limit,
			optionalQuery(c, "after"),
			optionalQuery(c, "reference_type"),
			optionalIntQuery(c, "reference_id"),
			optionalIntQuery(c, "user_id"),
			optionalQuery(c, "action_type"),
		)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}
